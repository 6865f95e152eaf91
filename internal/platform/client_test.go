package platform

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rflorenc/content-migration-workbench/internal/resilience"
)

func newTestClient(ts *httptest.Server) *Client {
	return newClient(ts.URL, "secret-token", ts.Client(), ClientOptions{
		Policy: resilience.Policy{Retries: 2, BaseDelay: time.Millisecond},
	})
}

func TestClient_Get_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get(context.Background(), "/wp-json/wp/v2/", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want {\"status\":\"ok\"}", string(body))
	}
}

func TestClient_Get_AuthHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q, want Bearer secret-token", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("X-Request-ID header missing")
		}
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if _, err := c.Get(context.Background(), "/test", nil); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
}

func TestClient_Get_PermanentErrorNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"rest_not_logged_in","message":"You are not currently logged in."}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(context.Background(), "/wp-json/wp/v2/users/me", nil)
	if err == nil {
		t.Fatal("Get should return error for 401")
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("error %v is not an *HTTPError", err)
	}
	if he.StatusCode != 401 || he.Code != "rest_not_logged_in" {
		t.Errorf("HTTPError = %d/%q, want 401/rest_not_logged_in", he.StatusCode, he.Code)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestClient_Get_RetriesTransient(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, err := c.Get(context.Background(), "/wp-json/wp/v2/posts", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(body) != "[]" {
		t.Errorf("body = %q, want []", body)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestClient_Get_ExhaustsRetries(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(context.Background(), "/wp-json/wp/v2/posts", nil)
	var exhausted *resilience.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %v is not an *ExhaustedError", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", n)
	}
}

func TestClient_Post_ResendsBodyOnRetry(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"title":"Hello"}` {
			t.Errorf("attempt body = %q", body)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, status, err := c.Post(context.Background(), "/wp-json/wp/v2/posts", map[string]string{"title": "Hello"})
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	if status != http.StatusCreated {
		t.Errorf("status = %d, want 201", status)
	}
}

func TestClient_PostMultipart(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "x.jpg" || string(data) != "JPEGDATA" {
			t.Errorf("upload = %q/%q", header.Filename, data)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part Content-Type = %q, want image/jpeg", ct)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":9,"source_url":"https://cms.example.com/x.jpg"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	body, _, err := c.PostMultipart(context.Background(), "/wp-json/wp/v2/media", "x.jpg", "image/jpeg", []byte("JPEGDATA"))
	if err != nil {
		t.Fatalf("PostMultipart returned error: %v", err)
	}
	if !strings.Contains(string(body), `"id":9`) {
		t.Errorf("body = %q", body)
	}
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c := newClient(ts.URL, "", ts.Client(), ClientOptions{Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := c.Get(context.Background(), "/hang", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if resilience.Classify(errors.Unwrap(err)) != resilience.Transient {
		t.Errorf("timeout should classify as transient: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("hung call was not bounded by the timeout")
	}
}

func TestHTTPError_RetryAfter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, err := c.Get(context.Background(), "/x", nil)
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("error %v is not an *HTTPError", err)
	}
	if he.RetryAfter() != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", he.RetryAfter())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		expect string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long string", 10, "this is a ..."},
		{"", 5, ""},
	}
	for _, tc := range tests {
		got := truncate(tc.input, tc.maxLen)
		if got != tc.expect {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expect)
		}
	}
}
