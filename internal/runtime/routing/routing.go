// Package routing holds the static event routing table: which services
// consume which event types. The table is built once at process start and
// read-only afterwards; an event type without an entry is a configuration
// bug surfaced at publish time, not a runtime condition to retry.
package routing

import (
	"fmt"
	"sort"
)

// UnroutedEventTypeError reports a publish attempt for an event type the
// table does not know. It is fatal misconfiguration: log it and fix the
// table, do not retry.
type UnroutedEventTypeError struct {
	EventType string
}

func (e *UnroutedEventTypeError) Error() string {
	return fmt.Sprintf("no subscribers routed for event type %q", e.EventType)
}

// Table maps event types to the ordered set of subscriber service names.
type Table struct {
	subscribers map[string][]string
}

// NewTable copies the provided mapping into an immutable table. Duplicate
// subscribers for one event type are collapsed, first occurrence wins.
func NewTable(entries map[string][]string) *Table {
	subscribers := make(map[string][]string, len(entries))
	for eventType, services := range entries {
		seen := make(map[string]struct{}, len(services))
		ordered := make([]string, 0, len(services))
		for _, svc := range services {
			if _, dup := seen[svc]; dup || svc == "" {
				continue
			}
			seen[svc] = struct{}{}
			ordered = append(ordered, svc)
		}
		subscribers[eventType] = ordered
	}
	return &Table{subscribers: subscribers}
}

// ResolveSubscribers returns the ordered subscriber services for an event
// type, or an UnroutedEventTypeError if the type has no entry.
func (t *Table) ResolveSubscribers(eventType string) ([]string, error) {
	services, ok := t.subscribers[eventType]
	if !ok || len(services) == 0 {
		return nil, &UnroutedEventTypeError{EventType: eventType}
	}
	out := make([]string, len(services))
	copy(out, services)
	return out, nil
}

// SubscribedTypes returns, sorted, every event type routed to the given
// service. Consumers use it to bind their queues at startup.
func (t *Table) SubscribedTypes(service string) []string {
	var types []string
	for eventType, services := range t.subscribers {
		for _, svc := range services {
			if svc == service {
				types = append(types, eventType)
				break
			}
		}
	}
	sort.Strings(types)
	return types
}

// EventTypes returns, sorted, every event type the table routes.
func (t *Table) EventTypes() []string {
	types := make([]string, 0, len(t.subscribers))
	for eventType := range t.subscribers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}
