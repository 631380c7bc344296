// Package transport builds the publisher/subscriber pair for the configured
// broker. Each transport registers itself by name; Config.PubSubSystem
// selects one at service construction.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Config provides the configuration values needed by transports. The
// interface keeps transports decoupled from the full config package.
type Config interface {
	GetServiceName() string
	GetPubSubSystem() string

	// RabbitMQ
	GetRabbitMQURL() string
	GetExchangeName() string
	GetPrefetchCount() int

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// NATS
	GetNATSURL() string
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Factory abstracts how the fabric initialises message transports, so tests
// and embedders can substitute their own brokers.
type Factory interface {
	Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)
}

// Registry maintains a mapping of transport names to their builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global transport registry. The built-in transports
// register themselves here at package init.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a transport builder to the registry. The name should match
// the PubSubSystem config value (e.g. "rabbitmq").
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build creates a transport using the registered builder for the config's
// PubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}

	return builder(ctx, cfg, logger)
}

// Names returns the list of registered transport names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Has returns true if a transport is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// DefaultFactory returns the factory backed by the default registry.
func DefaultFactory() Factory {
	return registryFactory{registry: DefaultRegistry}
}

type registryFactory struct {
	registry *Registry
}

func (f registryFactory) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f.registry.Build(ctx, cfg, logger)
}
