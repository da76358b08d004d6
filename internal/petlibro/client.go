package petlibro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Protocol constants sent with every request. They identify the client as
// the Android app build whose API this package speaks.
const (
	DefaultBaseURL = "https://api.us.petlibro.com"
	appSource      = "ANDROID"
	appLanguage    = "EN"
	appVersion     = "1.3.45"

	defaultTimezone    = "America/New_York"
	defaultTimeout     = 10 * time.Second
	defaultFeedTimeout = 15 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	Email    string
	Password string
	Timezone string
	BaseURL  string

	Timeout     time.Duration
	FeedTimeout time.Duration

	// MaxSessionLifetime caps how long a session is trusted regardless of
	// the lifetime the server states. Zero means no cap.
	MaxSessionLifetime time.Duration

	// RateLimit and RateBurst throttle outbound requests. Zero disables.
	RateLimit float64
	RateBurst int

	// Store persists the session across restarts. Optional.
	Store SessionStore

	HTTPClient *http.Client
	Now        func() time.Time
}

// envelope is the vendor response wrapper.
type envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// request describes one vendor call.
type request struct {
	method  string
	path    string
	body    any
	query   url.Values
	token   string
	timeout time.Duration

	// bare accepts a 2xx body without the envelope as the data itself.
	bare bool
}

// transport sends vendor requests with the app's fixed headers and
// unwraps the response envelope.
type transport struct {
	baseURL  string
	timezone string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
}

func newTransport(opts Options) *transport {
	t := &transport{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timezone: opts.Timezone,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
	}
	if t.baseURL == "" {
		t.baseURL = DefaultBaseURL
	}
	if t.timezone == "" {
		t.timezone = defaultTimezone
	}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}
	if t.http == nil {
		t.http = &http.Client{}
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return t
}

// do performs req and returns the envelope's data on code 0.
func (t *transport) do(ctx context.Context, req request) (json.RawMessage, error) {
	if req.method == "" {
		req.method = http.MethodPost
	}
	timeout := req.timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: waiting for rate limiter: %w", ErrNetwork, req.path, err)
		}
	}

	httpReq, err := t.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.method, req.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrNetwork, req.path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrAuth, req.path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s returned HTTP %d with undecodable body: %w",
			ErrNetwork, req.path, resp.StatusCode, err)
	}
	if env.Code == nil {
		if req.bare && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return raw, nil
		}
		return nil, &APIError{Endpoint: req.path, Code: -1, Msg: "response has no code"}
	}
	if *env.Code != 0 {
		return nil, &APIError{Endpoint: req.path, Code: *env.Code, Msg: env.Msg}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrNetwork, req.path, resp.StatusCode)
	}
	return env.Data, nil
}

func (t *transport) newHTTPRequest(ctx context.Context, req request) (*http.Request, error) {
	method := req.method
	target := t.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if method != http.MethodGet {
		payload := req.body
		if payload == nil {
			payload = struct{}{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("petlibro: encoding %s request: %w", req.path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("petlibro: building %s request: %w", req.path, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("source", appSource)
	httpReq.Header.Set("language", appLanguage)
	httpReq.Header.Set("timezone", t.timezone)
	httpReq.Header.Set("version", appVersion)
	if req.token != "" {
		// The vendor's two endpoint families read the credential from
		// different headers.
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
		httpReq.Header.Set("token", req.token)
	}
	return httpReq, nil
}

// Client issues typed operations against the vendor API. Every operation
// obtains a valid session first.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	t           *transport
	session     *SessionManager
	feedTimeout time.Duration
	stopChain   StopChain
	logger      Logger
	now         func() time.Time
}

// New creates a Client and its SessionManager. No network I/O happens
// until the first operation.
func New(opts Options) *Client {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FeedTimeout <= 0 {
		opts.FeedTimeout = defaultFeedTimeout
	}

	t := newTransport(opts)
	return &Client{
		t:           t,
		session:     newSessionManager(t, opts),
		feedTimeout: opts.FeedTimeout,
		stopChain:   DefaultStopChain(),
		logger:      noopLogger{},
		now:         opts.Now,
	}
}

// SetLogger sets the logger for the client and its session manager.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
	c.session.SetLogger(logger)
}

// SetStopChain replaces the strategies used to stop a feed whose id is a
// placeholder.
func (c *Client) SetStopChain(chain StopChain) {
	c.stopChain = chain
}

// Session returns the session manager.
func (c *Client) Session() *SessionManager {
	return c.session
}

// call performs an authenticated request. An auth rejection drops the
// in-memory session so the next call logs in again.
func (c *Client) call(ctx context.Context, req request) (json.RawMessage, error) {
	sess, err := c.session.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	req.token = sess.AccessToken

	data, err := c.t.do(ctx, req)
	if err != nil {
		if KindOf(err) == KindAuth {
			c.session.Invalidate()
		}
		return nil, err
	}
	return data, nil
}

// deviceCall posts {deviceSn} plus extra fields to path.
func (c *Client) deviceCall(ctx context.Context, path, deviceID string, extra map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: no device id for %s", ErrState, path)
	}
	body := map[string]any{"deviceSn": deviceID}
	for k, v := range extra {
		body[k] = v
	}
	return c.call(ctx, request{path: path, body: body, timeout: timeout})
}

// idCall posts {id, deviceSn}, the shape used by the read endpoints.
func (c *Client) idCall(ctx context.Context, path, deviceID string) (json.RawMessage, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: no device id for %s", ErrState, path)
	}
	return c.call(ctx, request{
		path: path,
		body: map[string]any{"id": deviceID, "deviceSn": deviceID},
	})
}

// EnsureSession returns a valid session, logging in or refreshing as
// needed.
func (c *Client) EnsureSession(ctx context.Context) (Session, error) {
	return c.session.EnsureValid(ctx)
}
