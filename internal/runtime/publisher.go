package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flockline/fabric/internal/runtime/envelope"
	errspkg "github.com/flockline/fabric/internal/runtime/errors"
	routingpkg "github.com/flockline/fabric/internal/runtime/routing"
)

// Publisher emits validated envelopes onto the configured transport.
type Publisher interface {
	Publish(ctx context.Context, env *envelope.Envelope) error
}

// NewMessageFromEnvelope converts the envelope into a Watermill message with
// the standard metadata required by the event pipeline. The message UUID is
// the event ID, so broker-side tooling can correlate both.
func NewMessageFromEnvelope(env *envelope.Envelope) (*message.Message, error) {
	if env == nil {
		return nil, errspkg.ErrEnvelopeRequired
	}

	payload, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(env.EventID, payload)
	msg.Metadata[MetadataKeyEventType] = env.EventType
	msg.Metadata[MetadataKeySource] = env.Source
	return msg, nil
}

// Publish validates the envelope against its registered schema and the
// routing table, then publishes it persistently, keyed by event type. The
// call returns after the broker acknowledges the message at the exchange;
// failures surface synchronously and are never retried here. Retry policy
// belongs to the caller.
func Publish(ctx context.Context, publisher message.Publisher, table *routingpkg.Table, env *envelope.Envelope) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if table == nil {
		return errspkg.ErrRoutingTableNeeded
	}
	if env == nil {
		return errspkg.ErrEnvelopeRequired
	}

	// Envelopes normally arrive through envelope.New, but hand-built ones
	// must not reach the broker malformed either.
	if env.Data == nil {
		return &envelope.SchemaValidationError{EventType: env.EventType, Reason: errspkg.ErrPayloadRequired}
	}
	if env.Data.EventType() != env.EventType {
		return &envelope.SchemaValidationError{
			EventType: env.EventType,
			Reason:    fmt.Errorf("payload variant %T belongs to %q", env.Data, env.Data.EventType()),
		}
	}
	if err := env.Data.Validate(); err != nil {
		return &envelope.SchemaValidationError{EventType: env.EventType, Reason: err}
	}

	if _, err := table.ResolveSubscribers(env.EventType); err != nil {
		return err
	}

	msg, err := NewMessageFromEnvelope(env)
	if err != nil {
		return err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(env.EventType, msg)
}

// Publish emits the envelope using the Service publisher so HTTP/RPC
// handlers can emit events without touching low-level Watermill APIs.
func (s *Service) Publish(ctx context.Context, env *envelope.Envelope) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return Publish(ctx, s.publisher, s.routing, env)
}
