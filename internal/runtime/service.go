package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"

	configpkg "github.com/flockline/fabric/internal/runtime/config"
	loggingpkg "github.com/flockline/fabric/internal/runtime/logging"
	routingpkg "github.com/flockline/fabric/internal/runtime/routing"
	transportpkg "github.com/flockline/fabric/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators a Service can use.
// Routing is required; everything else has a default.
type ServiceDependencies struct {
	// Routing is the static event routing table, loaded once at startup.
	Routing *routingpkg.Table

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
}

// Service wires a Watermill router, publisher, subscriber, routing table,
// and middleware chain into one coordination-fabric endpoint for a service
// process. All methods are safe for concurrent use.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	routing *routingpkg.Table

	handlers   map[string]EventHandler
	handlersMu sync.RWMutex

	bound   bool
	boundMu sync.Mutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration, panicking
// on misconfiguration. Register handlers on the returned Service, then call
// BindSubscriptions and Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService is NewService with an error return instead of a panic.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if deps.Routing == nil {
		return nil, fmt.Errorf("fabric: routing table is required")
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating fabric service",
		loggingpkg.LogFields{
			"service":       conf.ServiceName,
			"pubsub_system": conf.PubSubSystem,
			"config":        conf,
		})

	s := &Service{
		Conf:     conf,
		Logger:   log,
		routing:  deps.Routing,
		handlers: make(map[string]EventHandler),
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("fabric: transport setup failed: %w", err)
	}

	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}

	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	return s, nil
}

// Start binds the routing-table subscriptions (if not already bound) and
// runs the underlying router until the provided context is cancelled.
// In-flight handlers finish before Start returns; messages neither acked
// nor dead-lettered stay with the broker for redelivery.
func (s *Service) Start(ctx context.Context) error {
	if err := s.BindSubscriptions(); err != nil {
		return err
	}
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Close releases the router, publisher, and subscriber. Safe to call after
// Start returns; Publish must not be called concurrently with Close.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil {
		if err := s.router.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("fabric: close failed: %v", errs)
}

// Running returns a channel that closes once the router is running.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("fabric: failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// RegisterHTTPHandler mounts an HTTP handler on the mux for the given port.
// The servers start alongside the router.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
