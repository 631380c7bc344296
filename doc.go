// Package fabric is the coordination layer for event-driven services: a
// shared event envelope, a static routing table, and a Watermill-based
// runtime that publishes and consumes envelopes over RabbitMQ, Kafka, NATS,
// or in-memory Go channels. It bootstraps the Watermill router from Config
// and registers the default middleware chain for correlation IDs, logging,
// tracing, and Prometheus metrics, plus per-subscription dead-lettering,
// retries with exponential backoff, and panic recovery.
//
// Service hosts the router: fill Config, build the routing Table, create the
// Service, register handlers with RegisterTypedHandler, and call Start.
// Publishing validates the envelope against the registered schema and the
// routing table before it touches the broker, so unroutable or malformed
// events fail at the call site rather than in some consumer's logs.
//
// # Consumption semantics
//
// Each subscribed event type gets its own durable queue per consuming
// service. Handler failures are retried in process with exponential backoff;
// events that exhaust their retries, and events that cannot be decoded at
// all, land on the subscription's dead-letter queue instead of being
// redelivered forever.
//
// # Resilience
//
// The breaker and ratelimit packages cover the synchronous side of the
// platform: a per-service circuit breaker registry (with an http.RoundTripper
// wrapper for outbound clients) and a fixed-window rate limiter with a
// penalty box, backed by process memory or Redis.
package fabric
