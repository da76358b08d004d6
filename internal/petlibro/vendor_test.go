package petlibro

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// recordedRequest is one call received by the fake vendor.
type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   map[string]any
}

// fakeVendor is an httptest server speaking the vendor envelope. Paths
// without a handler answer with a non-zero code.
type fakeVendor struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]func(recordedRequest) any
	requests []recordedRequest
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	f := &fakeVendor{
		t:        t,
		handlers: make(map[string]func(recordedRequest) any),
	}
	f.handle(pathLogin, func(recordedRequest) any {
		return ok(map[string]any{"token": "abc123", "refreshToken": "r1", "expires_in": 3600})
	})
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeVendor) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Query:  r.URL.Query(),
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Body); err != nil {
			f.t.Errorf("fake vendor: undecodable body on %s: %v", r.URL.Path, err)
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()

	var resp any = fail(404, "no handler for "+r.URL.Path)
	if h != nil {
		resp = h(rec)
	}
	if status, isStatus := resp.(httpStatus); isStatus {
		w.WriteHeader(int(status))
		return
	}
	if body, isRaw := resp.(rawBody); isRaw {
		_, _ = w.Write([]byte(body))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// httpStatus makes a handler answer with a bare status code.
type httpStatus int

// rawBody makes a handler answer with a literal body.
type rawBody string

func (f *fakeVendor) handle(path string, h func(recordedRequest) any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeVendor) calls(path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeVendor) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Path)
	}
	return out
}

// client returns a Client pointed at the fake vendor with test credentials.
func (f *fakeVendor) client(opts Options) *Client {
	opts.BaseURL = f.server.URL
	if opts.Email == "" {
		opts.Email = "owner@example.com"
	}
	if opts.Password == "" {
		opts.Password = "hunter2"
	}
	return New(opts)
}

func ok(data any) map[string]any {
	return map[string]any{"code": 0, "msg": "success", "data": data}
}

func fail(code int, msg string) map[string]any {
	return map[string]any{"code": code, "msg": msg}
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
