package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flockline/fabric/internal/runtime/jsoncodec"
	loggingpkg "github.com/flockline/fabric/internal/runtime/logging"
)

// KeyFunc extracts the rate limit key from a request, usually the client
// identity.
type KeyFunc func(*http.Request) string

// ClientIP keys requests by client address, honouring the first hop of
// X-Forwarded-For when a proxy sits in front.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rejectedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// Middleware enforces the named policy on each request. Allowed requests
// carry X-RateLimit-Remaining and X-RateLimit-Reset headers; rejected ones
// get a 429 with a Retry-After hint. A failing store lets requests through,
// losing a limit beats losing the endpoint.
func Middleware(limiter *Limiter, policyName string, key KeyFunc, logger loggingpkg.ServiceLogger) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := limiter.Consume(r.Context(), policyName, key(r))
			if err != nil {
				var limited *RateLimitError
				if errors.As(err, &limited) {
					writeRejected(w, limited)
					return
				}
				if logger != nil {
					logger.Error("Rate limit store unavailable, allowing request", err, loggingpkg.LogFields{
						"policy": policyName,
					})
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))
			next.ServeHTTP(w, r)
		})
	}
}

func writeRejected(w http.ResponseWriter, limited *RateLimitError) {
	retryAfter := int64(limited.RetryAfter.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", limited.ResetAt.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusTooManyRequests)

	body := rejectedBody{
		Error:      "Too many requests",
		Message:    fmt.Sprintf("Rate limit exceeded, retry in %d seconds", retryAfter),
		RetryAfter: retryAfter,
	}
	_ = jsoncodec.Encode(w, body)
}
