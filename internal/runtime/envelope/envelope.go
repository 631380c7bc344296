// Package envelope defines the fixed-shape wrapper around every event the
// fabric carries, together with the closed vocabulary of payload variants.
// The five envelope fields are always present regardless of the payload
// variant; the payload is validated against its registered schema before
// anything touches the network.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	idspkg "github.com/flockline/fabric/internal/runtime/ids"
	"github.com/flockline/fabric/internal/runtime/jsoncodec"
)

// Payload is one variant of the event data union. Each event type has
// exactly one payload shape, registered with Register at package init.
type Payload interface {
	// EventType returns the closed-vocabulary type this payload belongs to,
	// e.g. "social.follow.created".
	EventType() string
	// Validate reports whether the payload satisfies its schema.
	Validate() error
}

// Envelope represents one fact about a state change in a service.
type Envelope struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
	Data      Payload   `json:"data"`
}

// ErrUnknownEventType marks payloads whose event type has no registered
// schema. Decode failures wrapping it are never retried.
var ErrUnknownEventType = errors.New("fabric: unknown event type")

// SchemaValidationError reports a payload that does not match the schema
// registered for its event type. It is raised before any network I/O.
type SchemaValidationError struct {
	EventType string
	Reason    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %q: %v", e.EventType, e.Reason)
}

func (e *SchemaValidationError) Unwrap() error { return e.Reason }

// New constructs a validated envelope. The event ID and timestamp are
// assigned here, once, and never change.
func New(eventType, source string, data Payload) (*Envelope, error) {
	if data == nil {
		return nil, &SchemaValidationError{EventType: eventType, Reason: errors.New("payload is required")}
	}
	if data.EventType() != eventType {
		return nil, &SchemaValidationError{
			EventType: eventType,
			Reason:    fmt.Errorf("payload variant %T belongs to %q", data, data.EventType()),
		}
	}
	version, ok := registeredVersion(eventType)
	if !ok {
		return nil, &SchemaValidationError{EventType: eventType, Reason: ErrUnknownEventType}
	}
	if err := data.Validate(); err != nil {
		return nil, &SchemaValidationError{EventType: eventType, Reason: err}
	}

	return &Envelope{
		EventID:   idspkg.NewEventID(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   version,
		Data:      data,
	}, nil
}

// Marshal encodes the envelope into the JSON wire format.
func (e *Envelope) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// head mirrors Envelope with the payload left raw so the variant can be
// decoded in a second pass once the event type is known.
type head struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Data      json.RawMessage `json:"data"`
}

// Decode parses the wire format back into a typed envelope. Corrupt input,
// a missing envelope field, or an unregistered event type all fail decoding;
// such messages cannot be fixed by redelivery.
func Decode(payload []byte) (*Envelope, error) {
	var h head
	if err := jsoncodec.Unmarshal(payload, &h); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if h.EventID == "" || h.EventType == "" || h.Source == "" || h.Version == "" || h.Timestamp.IsZero() {
		return nil, fmt.Errorf("malformed envelope: missing required field in %q", string(payload))
	}

	data, ok := newPayload(h.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, h.EventType)
	}
	if len(h.Data) > 0 {
		if err := jsoncodec.Unmarshal(h.Data, data); err != nil {
			return nil, fmt.Errorf("malformed %q payload: %w", h.EventType, err)
		}
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %q payload: %w", h.EventType, err)
	}

	return &Envelope{
		EventID:   h.EventID,
		EventType: h.EventType,
		Timestamp: h.Timestamp,
		Source:    h.Source,
		Version:   h.Version,
		Data:      data,
	}, nil
}

// Category returns the first segment of an event type, e.g. "social" for
// "social.follow.created". Queues are named per (service, category).
func Category(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	return eventType
}
