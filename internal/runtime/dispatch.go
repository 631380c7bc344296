package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flockline/fabric/internal/runtime/envelope"
	errspkg "github.com/flockline/fabric/internal/runtime/errors"
	loggingpkg "github.com/flockline/fabric/internal/runtime/logging"
)

// EventHandler processes one decoded envelope. Returning an error triggers
// the retry/dead-letter pipeline; returning nil acknowledges the message.
// Handlers may be invoked more than once for the same event (at-least-once
// delivery) and must tolerate redelivery.
type EventHandler func(ctx context.Context, env *envelope.Envelope) error

// RegisterEventHandler binds a handler to an event type. At most one
// handler per event type per service; registering twice is a programming
// error surfaced immediately.
func (s *Service) RegisterEventHandler(eventType string, handler EventHandler) error {
	if eventType == "" {
		return errspkg.ErrEventTypeRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if _, dup := s.handlers[eventType]; dup {
		return fmt.Errorf("fabric: handler already registered for %q", eventType)
	}
	s.handlers[eventType] = handler
	return nil
}

// RegisterTypedHandler wraps a payload-typed handler so business code never
// touches the raw envelope union.
func RegisterTypedHandler[T envelope.Payload](svc *Service, eventType string, handler func(ctx context.Context, env *envelope.Envelope, payload T) error) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	return svc.RegisterEventHandler(eventType, func(ctx context.Context, env *envelope.Envelope) error {
		payload, ok := env.Data.(T)
		if !ok {
			return NewUnprocessableEventError(
				env.EventID,
				fmt.Errorf("payload for %q is %T, handler expects %T", env.EventType, env.Data, payload),
			)
		}
		return handler(ctx, env, payload)
	})
}

// BindSubscriptions walks the routing table and adds one router handler per
// event type routed to this service. Idempotent; Start calls it if the
// caller has not. Dead-lettering, retry, and panic recovery are attached
// per handler so the dead-letter topic tracks the handler's queue name.
func (s *Service) BindSubscriptions() error {
	s.boundMu.Lock()
	defer s.boundMu.Unlock()
	if s.bound {
		return nil
	}

	service := s.Conf.ServiceName
	eventTypes := s.routing.SubscribedTypes(service)

	retry := s.retryMiddleware(s.retryConfigFromConf())
	recoverer := recovererMiddleware()

	for _, eventType := range eventTypes {
		queue := fmt.Sprintf("%s.%s", service, envelope.Category(eventType))
		deadLetter, err := s.deadLetterMiddleware(s.Conf.DeadLetterQueue(queue))
		if err != nil {
			return err
		}

		handler := s.router.AddNoPublisherHandler(
			eventType,
			eventType,
			s.subscriber,
			s.dispatch,
		)
		handler.AddMiddleware(deadLetter, retry, recoverer)

		s.Logger.Info("Bound event subscription", loggingpkg.LogFields{
			"service":    service,
			"event_type": eventType,
			"queue":      queue,
		})
	}

	s.bound = true
	return nil
}

// dispatch decodes the transport payload and routes it to the handler
// registered for its event type. A message that cannot be decoded is
// unprocessable and is dead-lettered without retries; a message without a
// handler is logged and acknowledged so unknown-but-harmless event types
// never block the queue.
func (s *Service) dispatch(msg *message.Message) error {
	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		return NewUnprocessableEventError(string(msg.Payload), err)
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[env.EventType]
	s.handlersMu.RUnlock()

	if !ok {
		s.Logger.Info("No handler registered, acknowledging", loggingpkg.LogFields{
			"event_type": env.EventType,
			"event_id":   env.EventID,
		})
		return nil
	}

	return handler(msg.Context(), env)
}
