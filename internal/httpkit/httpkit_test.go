package httpkit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	if c := NewClient(); c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.Timeout)
	}
	if c := NewClient(WithTimeout(5 * time.Second)); c.Timeout != 5*time.Second {
		t.Errorf("custom timeout = %v, want 5s", c.Timeout)
	}
	// Zero disables the timeout for streaming responses.
	if c := NewClient(WithTimeout(0)); c.Timeout != 0 {
		t.Errorf("zero timeout = %v, want 0", c.Timeout)
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("TestBot/1.0"))
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "TestBot/1.0" {
		t.Errorf("User-Agent = %q, want TestBot/1.0", body)
	}
}

func TestNewClient_DefaultUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	resp, err := NewClient().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "hersite/") {
		t.Errorf("User-Agent = %q, want hersite/ prefix", body)
	}
}

func TestNewClient_ExistingUserAgentNotOverwritten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "CustomBot/2.0")
	resp, err := NewClient().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "CustomBot/2.0" {
		t.Errorf("User-Agent = %q, want CustomBot/2.0", body)
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v, want %v", tr.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v, want %v", tr.ResponseHeaderTimeout, DefaultResponseHeader)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("error details here")), 512); got != "error details here" {
		t.Errorf("got %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(strings.NewReader(strings.Repeat("x", 1000))), 10); len(got) != 10 {
		t.Errorf("truncated read = %d bytes, want 10", len(got))
	}
	if got := ReadErrorBody(nil, 512); got != "" {
		t.Errorf("nil body = %q, want empty", got)
	}
	if got := ReadErrorBody(io.NopCloser(&failReader{}), 512); !strings.Contains(got, "failed to read") {
		t.Errorf("reader error = %q, want failure message", got)
	}
}

type failReader struct{}

func (f *failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read error")
}

func TestDrainAndClose(t *testing.T) {
	DrainAndClose(io.NopCloser(strings.NewReader("hello world")), 1024)
	DrainAndClose(nil, 1024) // nil must not panic
}

// failingRoundTripper simulates transient errors then succeeds.
type failingRoundTripper struct {
	failures int
	calls    int
}

func (f *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED},
		}
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func TestRetryTransport_RecoversFromTransientError(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ft.calls != 2 {
		t.Fatalf("calls = %d, want 2 (1 fail + 1 success)", ft.calls)
	}
}

func TestRetryTransport_ExhaustsRetries(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if ft.calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 initial + 2 retries)", ft.calls)
	}
}

func TestRetryTransport_RespectsContextCancellation(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 5, delay: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", "http://example.com", nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected context cancellation error")
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1 before cancellation", ft.calls)
	}
}

func TestRetryTransport_NoRetryOnNonRetryableError(t *testing.T) {
	ft := &nonRetryableRoundTripper{}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", ft.calls)
	}
}

type nonRetryableRoundTripper struct {
	calls int
}

func (f *nonRetryableRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, fmt.Errorf("some non-retryable error")
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &retryTransport{base: ft, count: 2, delay: 10 * time.Millisecond}

	// POST with a body but no GetBody cannot be safely replayed.
	req, _ := http.NewRequest("POST", "http://example.com", strings.NewReader(`{"key":"value"}`))
	req.GetBody = nil

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error (must not retry without GetBody)")
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1", ft.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"generic", fmt.Errorf("oops"), false},
		{"EHOSTUNREACH", syscall.EHOSTUNREACH, true},
		{"ENETUNREACH", syscall.ENETUNREACH, true},
		{"ECONNREFUSED", syscall.ECONNREFUSED, true},
		{"ECONNRESET", syscall.ECONNRESET, false},
		{"wrapped ECONNREFUSED", fmt.Errorf("connect: %w", syscall.ECONNREFUSED), true},
		{"OpError wrapping EHOSTUNREACH", &net.OpError{
			Op: "dial", Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.EHOSTUNREACH},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
