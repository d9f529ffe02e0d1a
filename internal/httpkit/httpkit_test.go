package httpkit

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClientSetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("aztriage-test/1.0"))
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if got != "aztriage-test/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestUserAgentNotOverwritten(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("default/1.0"))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "caller/2.0")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if got != "caller/2.0" {
		t.Errorf("User-Agent = %q, caller header should win", got)
	}
}

// failNTransport fails the first n attempts with a retryable errno.
type failNTransport struct {
	remaining int
	attempts  int
	base      http.RoundTripper
}

func (t *failNTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.attempts++
	if t.remaining > 0 {
		t.remaining--
		return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	}
	return t.base.RoundTrip(req)
}

func TestRetryOnTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	base := &failNTransport{remaining: 2, base: http.DefaultTransport}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip error: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if base.attempts != 3 {
		t.Errorf("attempts = %d, want 3", base.attempts)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	base := &failNTransport{remaining: 10, base: http.DefaultTransport}
	rt := &retryTransport{base: base, count: 2, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://unreachable.invalid/", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error after retry budget")
	}
	if base.attempts != 3 {
		t.Errorf("attempts = %d, want 1 + 2 retries", base.attempts)
	}
}

func TestRetrySkippedWithoutRewindableBody(t *testing.T) {
	base := &failNTransport{remaining: 10, base: http.DefaultTransport}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

	// A body without GetBody cannot be replayed safely.
	req, _ := http.NewRequest(http.MethodPost, "http://unreachable.invalid/", strings.NewReader("payload"))
	req.GetBody = nil
	req.Body = io.NopCloser(strings.NewReader("payload"))

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if base.attempts != 1 {
		t.Errorf("attempts = %d, want no retries", base.attempts)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{&net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, true},
		{&net.OpError{Op: "read", Err: syscall.ECONNRESET}, false},
		{errors.New("plain error"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader(`{"error":{"code":"AuthorizationFailed"}}`))
	got := ReadErrorBody(body, 1024)
	if !strings.Contains(got, "AuthorizationFailed") {
		t.Errorf("body = %q", got)
	}
	if ReadErrorBody(nil, 1024) != "" {
		t.Error("nil body should read as empty")
	}
}
