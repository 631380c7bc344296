package fabric

import (
	"context"

	breakerpkg "github.com/flockline/fabric/internal/resilience/breaker"
	ratelimitpkg "github.com/flockline/fabric/internal/resilience/ratelimit"
	runtimepkg "github.com/flockline/fabric/internal/runtime"
	configpkg "github.com/flockline/fabric/internal/runtime/config"
	envelopepkg "github.com/flockline/fabric/internal/runtime/envelope"
	errspkg "github.com/flockline/fabric/internal/runtime/errors"
	idspkg "github.com/flockline/fabric/internal/runtime/ids"
	jsoncodec "github.com/flockline/fabric/internal/runtime/jsoncodec"
	loggingpkg "github.com/flockline/fabric/internal/runtime/logging"
	routingpkg "github.com/flockline/fabric/internal/runtime/routing"
	transportpkg "github.com/flockline/fabric/internal/runtime/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory
	TransportRegistry   = transportpkg.Registry

	Envelope              = envelopepkg.Envelope
	Payload               = envelopepkg.Payload
	SchemaValidationError = envelopepkg.SchemaValidationError

	RoutingTable           = routingpkg.Table
	UnroutedEventTypeError = routingpkg.UnroutedEventTypeError

	EventHandler = runtimepkg.EventHandler

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	UnprocessableEventError = runtimepkg.UnprocessableEventError

	// Circuit breaker types for synchronous service-to-service calls.
	BreakerConfig    = breakerpkg.Config
	BreakerRegistry  = breakerpkg.Registry
	CircuitOpenError = breakerpkg.CircuitOpenError

	// Rate limiting types.
	RateLimitPolicy = ratelimitpkg.Policy
	RateLimiter     = ratelimitpkg.Limiter
	RateLimitResult = ratelimitpkg.Result
	RateLimitError  = ratelimitpkg.RateLimitError
	RateLimitStore  = ratelimitpkg.Store
)

// Event payload variants carried by the envelope's data field.
type (
	UserRegistered  = envelopepkg.UserRegistered
	UserDeleted     = envelopepkg.UserDeleted
	FollowCreated   = envelopepkg.FollowCreated
	FollowDeleted   = envelopepkg.FollowDeleted
	PostCreated     = envelopepkg.PostCreated
	CommentCreated  = envelopepkg.CommentCreated
	LikeCreated     = envelopepkg.LikeCreated
	ReportCreated   = envelopepkg.ReportCreated
	AppealSubmitted = envelopepkg.AppealSubmitted
	MediaUploaded   = envelopepkg.MediaUploaded
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	NewEnvelope               = envelopepkg.New
	DecodeEnvelope            = envelopepkg.Decode
	EventCategory             = envelopepkg.Category
	RegisterSchema            = envelopepkg.Register
	RegisterSchemaWithVersion = envelopepkg.RegisterVersion
	RegisteredSchemas         = envelopepkg.Types
	ErrUnknownEventType       = envelopepkg.ErrUnknownEventType

	NewRoutingTable = routingpkg.NewTable

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware

	NewUnprocessableEventError = runtimepkg.NewUnprocessableEventError

	// Transport registry. Builders for rabbitmq, kafka, nats, and channel
	// register themselves on import of the runtime transport package.
	DefaultTransportRegistry = transportpkg.DefaultRegistry
	DefaultTransportFactory  = transportpkg.DefaultFactory

	// Circuit breaker registry constructor and tuning options.
	NewBreakerRegistry         = breakerpkg.NewRegistry
	WithBreakerServiceConfig   = breakerpkg.WithServiceConfig
	WithBreakerLogger          = breakerpkg.WithLogger
	WithBreakerStateChangeHook = breakerpkg.WithStateChangeHook
	NewBreakerRoundTripper     = breakerpkg.NewRoundTripper
	WriteServiceUnavailable    = breakerpkg.WriteUnavailable

	// Rate limiter constructor and stores.
	NewRateLimiter      = ratelimitpkg.New
	NewMemoryRateStore  = ratelimitpkg.NewMemoryStore
	NewRedisRateStore   = ratelimitpkg.NewRedisStore
	RateLimitMiddleware = ratelimitpkg.Middleware
	RateLimitKeyByIP    = ratelimitpkg.ClientIP

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrEventTypeRequired  = errspkg.ErrEventTypeRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrEnvelopeRequired   = errspkg.ErrEnvelopeRequired
	ErrRoutingTableNeeded = errspkg.ErrRoutingTableNeeded
	ErrPayloadRequired    = errspkg.ErrPayloadRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewEventID = idspkg.NewEventID
)

// Event type constants for the platform's built-in schemas.
const (
	TypeUserRegistered  = envelopepkg.TypeUserRegistered
	TypeUserDeleted     = envelopepkg.TypeUserDeleted
	TypeFollowCreated   = envelopepkg.TypeFollowCreated
	TypeFollowDeleted   = envelopepkg.TypeFollowDeleted
	TypePostCreated     = envelopepkg.TypePostCreated
	TypeCommentCreated  = envelopepkg.TypeCommentCreated
	TypeLikeCreated     = envelopepkg.TypeLikeCreated
	TypeReportCreated   = envelopepkg.TypeReportCreated
	TypeAppealSubmitted = envelopepkg.TypeAppealSubmitted
	TypeMediaUploaded   = envelopepkg.TypeMediaUploaded
)

// Metadata keys stamped onto every published message.
const (
	MetadataKeyEventType     = runtimepkg.MetadataKeyEventType
	MetadataKeySource        = runtimepkg.MetadataKeySource
	MetadataKeyCorrelationID = runtimepkg.MetadataKeyCorrelationID
)

// RegisterTypedHandler registers a handler that receives the decoded payload
// variant directly instead of the raw envelope data.
func RegisterTypedHandler[T Payload](svc *Service, eventType string, handler func(ctx context.Context, env *Envelope, payload T) error) error {
	return runtimepkg.RegisterTypedHandler(svc, eventType, handler)
}

// BreakerGuard runs call through the registry's breaker for service, typed.
func BreakerGuard[T any](ctx context.Context, registry *BreakerRegistry, service string, call func(ctx context.Context) (T, error)) (T, error) {
	return breakerpkg.Guard(ctx, registry, service, call)
}
