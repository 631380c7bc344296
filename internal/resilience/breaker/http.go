package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/flockline/fabric/internal/runtime/jsoncodec"
)

// errUpstreamStatus marks 5xx responses so the breaker counts them as
// failures while the response itself still reaches the caller.
var errUpstreamStatus = errors.New("fabric: upstream returned server error status")

// ServiceKeyFunc names the target service for a request. The default keys on
// the request host, which matches one breaker per upstream.
type ServiceKeyFunc func(*http.Request) string

func hostKey(req *http.Request) string {
	return req.URL.Host
}

// RoundTripper wraps an http.RoundTripper with the circuit breaker for the
// request's target service. Transport errors and 5xx responses count as
// failures; an open circuit fails the request with CircuitOpenError without
// touching the network.
type RoundTripper struct {
	next     http.RoundTripper
	registry *Registry
	keyFunc  ServiceKeyFunc
}

// NewRoundTripper builds a breaker-guarded transport. A nil next falls back
// to http.DefaultTransport, a nil keyFunc keys breakers by request host.
func NewRoundTripper(registry *Registry, next http.RoundTripper, keyFunc ServiceKeyFunc) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if keyFunc == nil {
		keyFunc = hostKey
	}
	return &RoundTripper{next: next, registry: registry, keyFunc: keyFunc}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	service := rt.keyFunc(req)

	// The breaker's call context dies the moment the guarded call returns,
	// which is before the caller has read the body. The request therefore
	// runs on its own context: the call timeout propagates to it only while
	// waiting for response headers, and afterwards the body wrapper keeps the
	// context alive until the response is drained or closed.
	reqCtx, cancel := context.WithCancel(req.Context())

	// The error result carries no response, so 5xx responses travel out of
	// the guarded call through serverErr and still reach the caller.
	var serverErr *http.Response
	resp, err := Guard(req.Context(), rt.registry, service, func(ctx context.Context) (*http.Response, error) {
		stop := context.AfterFunc(ctx, cancel)
		resp, callErr := rt.next.RoundTrip(req.WithContext(reqCtx))
		stop()
		if callErr != nil {
			return nil, callErr
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			serverErr = resp
			return nil, fmt.Errorf("%w: %s from %s", errUpstreamStatus, resp.Status, service)
		}
		return resp, nil
	})

	if errors.Is(err, errUpstreamStatus) {
		serverErr.Body = &cancelOnDrainBody{ReadCloser: serverErr.Body, cancel: cancel}
		return serverErr, nil
	}
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnDrainBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnDrainBody releases the request context once the caller is done
// with the response body.
type cancelOnDrainBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnDrainBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.cancel()
	}
	return n, err
}

func (b *cancelOnDrainBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

type unavailableBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// WriteUnavailable renders the standard 503 reply for an open circuit,
// including the Retry-After header. It reports whether err was a
// CircuitOpenError; callers handle other errors themselves.
func WriteUnavailable(w http.ResponseWriter, err error) bool {
	var open *CircuitOpenError
	if !errors.As(err, &open) {
		return false
	}

	retryAfter := int64(open.RetryAfter.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.WriteHeader(http.StatusServiceUnavailable)

	body := unavailableBody{
		Error:      "Service temporarily unavailable",
		Message:    fmt.Sprintf("Service %q is not responding, please retry later", open.Service),
		RetryAfter: retryAfter,
	}
	_ = jsoncodec.Encode(w, body)
	return true
}
