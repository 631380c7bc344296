package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/flockline/fabric/internal/runtime/ids"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.correlationIDMiddleware()

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.NewEventID(), nil)
		msg.Metadata = message.Metadata{}
		called := false
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			called = true
			if m.Metadata[MetadataKeyCorrelationID] == "" {
				t.Fatal("expected correlation id to be populated")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Fatal("handler not invoked")
		}
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.NewEventID(), nil)
		msg.Metadata = message.Metadata{MetadataKeyCorrelationID: "fixed"}
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			if m.Metadata[MetadataKeyCorrelationID] != "fixed" {
				t.Fatal("expected correlation id to be preserved")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestRetryMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	cfg := RetryMiddlewareConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}

	t.Run("retries transient failures", func(t *testing.T) {
		mw := svc.retryMiddleware(cfg)
		attempts := 0
		msg := message.NewMessage(idspkg.NewEventID(), nil)
		msg.Metadata = message.Metadata{}
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("retry")
			}
			return nil, nil
		})(msg)
		if err != nil {
			t.Fatalf("unexpected error after retries: %v", err)
		}
		if attempts < 2 {
			t.Fatalf("expected retries, got %d attempts", attempts)
		}
	})

	t.Run("does not retry unprocessable events", func(t *testing.T) {
		mw := svc.retryMiddleware(cfg)
		attempts := 0
		msg := message.NewMessage(idspkg.NewEventID(), nil)
		msg.Metadata = message.Metadata{}
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			attempts++
			return nil, NewUnprocessableEventError("bad payload", errors.New("malformed"))
		})(msg)
		if err == nil {
			t.Fatal("expected error to surface")
		}
		if attempts != 1 {
			t.Fatalf("expected a single attempt, got %d", attempts)
		}
	})

	t.Run("honours custom retry predicate", func(t *testing.T) {
		custom := cfg
		custom.RetryIf = func(error) bool { return false }
		mw := svc.retryMiddleware(custom)
		attempts := 0
		msg := message.NewMessage(idspkg.NewEventID(), nil)
		msg.Metadata = message.Metadata{}
		_, err := mw(func(m *message.Message) ([]*message.Message, error) {
			attempts++
			return nil, errors.New("transient")
		})(msg)
		if err == nil {
			t.Fatal("expected error to surface")
		}
		if attempts != 1 {
			t.Fatalf("expected a single attempt, got %d", attempts)
		}
	})
}

func TestTracerMiddleware(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	mw := svc.tracerMiddleware()
	msg := message.NewMessage(idspkg.NewEventID(), nil)
	msg.Metadata = message.Metadata{MetadataKeyEventType: "social.follow.created"}
	var observed trace.Span
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanFromContext(m.Context())
		return nil, nil
	})(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if observed == nil {
		t.Fatal("expected span to be attached to context")
	}
}

func TestDeadLetterMiddlewareRequiresPublisher(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	if _, err := svc.deadLetterMiddleware("notification.social.dead-letter"); err == nil {
		t.Fatal("expected error when publisher is nil")
	}
}

func TestRecovererMiddlewareConvertsPanics(t *testing.T) {
	t.Parallel()

	mw := recovererMiddleware()
	msg := message.NewMessage(idspkg.NewEventID(), nil)
	msg.Metadata = message.Metadata{}
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		panic("handler exploded")
	})(msg)
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	t.Parallel()

	t.Run("requires router", func(t *testing.T) {
		svc := &Service{}
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Middleware: func(h message.HandlerFunc) message.HandlerFunc { return h },
		})
		if err == nil {
			t.Fatal("expected error when router is missing")
		}
	})

	t.Run("requires configuration", func(t *testing.T) {
		svc := &Service{router: newTestRouter(t)}
		if err := svc.RegisterMiddleware(MiddlewareRegistration{}); err == nil {
			t.Fatal("expected error for empty registration")
		}
	})

	t.Run("invokes builder", func(t *testing.T) {
		svc := &Service{router: newTestRouter(t)}
		built := false
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				built = true
				return func(h message.HandlerFunc) message.HandlerFunc { return h }, nil
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !built {
			t.Fatal("expected builder to be invoked")
		}
	})

	t.Run("propagates builder error", func(t *testing.T) {
		svc := &Service{router: newTestRouter(t)}
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				return nil, errors.New("build failed")
			},
		})
		if err == nil {
			t.Fatal("expected builder error to propagate")
		}
	})

	t.Run("skips nil middleware from builder", func(t *testing.T) {
		svc := &Service{router: newTestRouter(t)}
		err := svc.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				return nil, nil
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func newTestRouter(t *testing.T) *message.Router {
	t.Helper()
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}
	return router
}
