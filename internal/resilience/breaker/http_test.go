package breaker

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestRoundTripperForwardsSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	client := &http.Client{Transport: NewRoundTripper(NewRegistry(testConfig()), nil, nil)}

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRoundTripperStreamsBodyBeyondGuardedCall(t *testing.T) {
	const chunks = 5
	chunk := bytes.Repeat([]byte("x"), 64*1024)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer must support flushing")
			return
		}
		for i := 0; i < chunks; i++ {
			_, _ = w.Write(chunk)
			flusher.Flush()
			time.Sleep(40 * time.Millisecond)
		}
	}))
	defer upstream.Close()

	// The call timeout bounds waiting for headers; the body streams well
	// past it and must still arrive intact.
	cfg := Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, CallTimeout: 100 * time.Millisecond}
	client := &http.Client{Transport: NewRoundTripper(NewRegistry(cfg), nil, nil)}

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("body failed mid-stream: %v", err)
	}
	if len(body) != chunks*len(chunk) {
		t.Fatalf("read %d bytes, want %d", len(body), chunks*len(chunk))
	}
}

func TestRoundTripperCallTimeoutBoundsHeaderWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	cfg := Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, CallTimeout: 50 * time.Millisecond}
	client := &http.Client{Transport: NewRoundTripper(NewRegistry(cfg), nil, nil)}

	start := time.Now()
	_, err := client.Get(upstream.URL)
	if err == nil {
		t.Fatal("expected slow headers to fail the call")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("call was not bounded by the timeout, took %s", elapsed)
	}
}

func TestRoundTripperCountsServerErrorsButReturnsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	registry := NewRegistry(testConfig())
	client := &http.Client{Transport: NewRoundTripper(registry, nil, nil)}

	for i := 0; i < 5; i++ {
		resp, err := client.Get(upstream.URL)
		if err != nil {
			t.Fatalf("request %d: 5xx responses must still reach the caller: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("request %d: unexpected status %d", i+1, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}

	// The streak of 5xx responses opened the circuit.
	_, err := client.Get(upstream.URL)
	if err == nil {
		t.Fatal("expected open circuit to fail the request")
	}
}

func TestRoundTripperOpenCircuitSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	registry := NewRegistry(testConfig())
	client := &http.Client{Transport: NewRoundTripper(registry, nil, nil)}

	for i := 0; i < 5; i++ {
		resp, err := client.Get(upstream.URL)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
	}
	hitsWhenOpened := hits.Load()

	_, _ = client.Get(upstream.URL)
	if got := hits.Load(); got != hitsWhenOpened {
		t.Fatalf("open circuit still reached the upstream (%d -> %d hits)", hitsWhenOpened, got)
	}
}

func TestWriteUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	handled := WriteUnavailable(rec, &CircuitOpenError{Service: "moderation", RetryAfter: 25 * time.Second})
	if !handled {
		t.Fatal("expected CircuitOpenError to be handled")
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "25" {
		t.Fatalf("expected Retry-After 25, got %q", got)
	}

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int64  `json:"retryAfter"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error != "Service temporarily unavailable" {
		t.Errorf("unexpected error field %q", body.Error)
	}
	if body.RetryAfter != 25 {
		t.Errorf("unexpected retryAfter %d", body.RetryAfter)
	}
	if parsed, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || int64(parsed) != body.RetryAfter {
		t.Error("header and body retry hints disagree")
	}
}

func TestWriteUnavailableIgnoresOtherErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	if WriteUnavailable(rec, io.ErrUnexpectedEOF) {
		t.Fatal("expected non-breaker errors to be left alone")
	}
}
