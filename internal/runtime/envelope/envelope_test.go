package envelope

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewAssignsIdentity(t *testing.T) {
	env, err := New(TypeFollowCreated, "social", &FollowCreated{
		FollowerID:  "u-1",
		FollowingID: "u-2",
	})
	if err != nil {
		t.Fatalf("expected envelope, got %v", err)
	}

	if _, err := ulid.Parse(env.EventID); err != nil {
		t.Errorf("expected ULID event ID, got %q", env.EventID)
	}
	if env.EventType != TypeFollowCreated {
		t.Errorf("unexpected event type %q", env.EventType)
	}
	if env.Source != "social" {
		t.Errorf("unexpected source %q", env.Source)
	}
	if env.Version != "1" {
		t.Errorf("expected schema version 1, got %q", env.Version)
	}
	if env.Timestamp.IsZero() || env.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", env.Timestamp)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		data      Payload
	}{
		{"nil payload", TypeFollowCreated, nil},
		{"variant mismatch", TypeFollowCreated, &PostCreated{PostID: "p-1", AuthorID: "u-1"}},
		{"unknown event type", "unknown.event.type", &FollowCreated{FollowerID: "u-1", FollowingID: "u-2"}},
		{"schema violation", TypeFollowCreated, &FollowCreated{FollowerID: "u-1", FollowingID: "u-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.eventType, "social", tt.data)
			var schemaErr *SchemaValidationError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaValidationError, got %v", err)
			}
			if schemaErr.EventType != tt.eventType {
				t.Fatalf("expected event type %q in error, got %q", tt.eventType, schemaErr.EventType)
			}
		})
	}
}

func TestNewUnknownTypeWrapsSentinel(t *testing.T) {
	_, err := New("unknown.event.type", "social", unregisteredPayload{})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

// unregisteredPayload claims an event type no schema is registered for.
type unregisteredPayload struct{}

func (unregisteredPayload) EventType() string { return "unknown.event.type" }
func (unregisteredPayload) Validate() error   { return nil }

func TestMarshalDecodeRoundTrip(t *testing.T) {
	env, err := New(TypeMediaUploaded, "media", &MediaUploaded{
		MediaID:  "m-1",
		OwnerID:  "u-1",
		MimeType: "image/png",
		Bytes:    2048,
	})
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}

	wire, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"eventId"`, `"eventType"`, `"timestamp"`, `"source"`, `"version"`, `"data"`} {
		if !strings.Contains(string(wire), field) {
			t.Errorf("wire format missing %s: %s", field, wire)
		}
	}

	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventID != env.EventID {
		t.Errorf("event ID changed across the wire: %q vs %q", decoded.EventID, env.EventID)
	}
	media, ok := decoded.Data.(*MediaUploaded)
	if !ok {
		t.Fatalf("expected *MediaUploaded, got %T", decoded.Data)
	}
	if media.MediaID != "m-1" || media.Bytes != 2048 {
		t.Errorf("payload fields lost: %+v", media)
	}
}

func TestDecodeFailures(t *testing.T) {
	valid, err := New(TypeUserDeleted, "account", &UserDeleted{UserID: "u-9"})
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	wire, err := valid.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not JSON", []byte("not json at all")},
		{"empty object", []byte(`{}`)},
		{"missing source", []byte(strings.Replace(string(wire), `"source":"account"`, `"source":""`, 1))},
		{"unknown type", []byte(strings.Replace(string(wire), TypeUserDeleted, "mystery.event", 1))},
		{"invalid payload", []byte(strings.Replace(string(wire), `"userId":"u-9"`, `"userId":""`, 1))},
		{"wrong payload shape", []byte(strings.Replace(string(wire), `"userId":"u-9"`, `"userId":42`, 1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.payload); err == nil {
				t.Fatal("expected decode error, got nil")
			}
		})
	}
}

func TestDecodeUnknownTypeSentinel(t *testing.T) {
	wire := []byte(`{
		"eventId": "01J0000000000000000000AAAA",
		"eventType": "mystery.event.happened",
		"timestamp": "2026-08-29T10:00:00Z",
		"source": "nowhere",
		"version": "1",
		"data": {}
	}`)

	_, err := Decode(wire)
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{TypeFollowCreated, "social"},
		{TypeMediaUploaded, "media"},
		{TypeUserRegistered, "account"},
		{"nodots", "nodots"},
	}
	for _, tt := range tests {
		if got := Category(tt.eventType); got != tt.want {
			t.Errorf("Category(%q) = %q, want %q", tt.eventType, got, tt.want)
		}
	}
}

func TestRegistryListsBuiltinTypes(t *testing.T) {
	for _, eventType := range []string{
		TypeUserRegistered, TypeUserDeleted,
		TypeFollowCreated, TypeFollowDeleted,
		TypePostCreated, TypeCommentCreated, TypeLikeCreated,
		TypeReportCreated, TypeAppealSubmitted,
		TypeMediaUploaded,
	} {
		if !Registered(eventType) {
			t.Errorf("expected %q to be registered", eventType)
		}
	}

	if len(Types()) < 10 {
		t.Errorf("expected at least 10 registered types, got %d", len(Types()))
	}
}

func TestRegisterVersionStampsEnvelopes(t *testing.T) {
	RegisterVersion(func() Payload { return &versionedPayload{} }, "2")

	env, err := New("test.versioned.event", "test", &versionedPayload{Value: "x"})
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	if env.Version != "2" {
		t.Fatalf("expected version 2, got %q", env.Version)
	}
}

type versionedPayload struct {
	Value string `json:"value"`
}

func (*versionedPayload) EventType() string { return "test.versioned.event" }

func (p *versionedPayload) Validate() error {
	if p.Value == "" {
		return errors.New("value is required")
	}
	return nil
}
