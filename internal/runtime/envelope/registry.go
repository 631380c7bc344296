package envelope

import "sync"

// variant couples a payload factory with the schema version stamped onto
// envelopes of its event type.
type variant struct {
	factory func() Payload
	version string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]variant{}
)

// Register binds a payload factory to its event type at schema version "1".
// Registration normally happens in package init; re-registering an event
// type replaces the previous variant.
func Register(factory func() Payload) {
	RegisterVersion(factory, "1")
}

// RegisterVersion binds a payload factory to its event type at an explicit
// schema version.
func RegisterVersion(factory func() Payload, version string) {
	eventType := factory().EventType()

	registryMu.Lock()
	registry[eventType] = variant{factory: factory, version: version}
	registryMu.Unlock()
}

// Registered reports whether a schema is known for the event type.
func Registered(eventType string) bool {
	registryMu.RLock()
	_, ok := registry[eventType]
	registryMu.RUnlock()
	return ok
}

// Types returns every registered event type. Intended for startup checks
// against the routing table.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for eventType := range registry {
		types = append(types, eventType)
	}
	return types
}

func newPayload(eventType string) (Payload, bool) {
	registryMu.RLock()
	v, ok := registry[eventType]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return v.factory(), true
}

func registeredVersion(eventType string) (string, bool) {
	registryMu.RLock()
	v, ok := registry[eventType]
	registryMu.RUnlock()
	if !ok {
		return "", false
	}
	return v.version, true
}
