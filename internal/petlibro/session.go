package petlibro

import (
	"context"
	"crypto/md5" //nolint:gosec // the vendor login protocol requires an MD5 password digest
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Login payload constants from the Android app.
const (
	appID   = 1
	appSN   = "c35772530d1041699c87fe62348507a8"
	country = "US"

	// defaultSessionLifetime applies when the server states no lifetime
	// and the token carries no exp claim.
	defaultSessionLifetime = time.Hour
)

// Vendor auth endpoints.
const (
	pathLogin   = "/member/auth/login"
	pathRefresh = "/member/auth/refresh"
	pathLogout  = "/user/logout"
)

// ErrSessionNotFound is returned by a SessionStore with no saved session.
var ErrSessionNotFound = errors.New("petlibro: no stored session")

// SessionStore persists a session between process restarts.
type SessionStore interface {
	Load(ctx context.Context, email string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, email string) error
}

// SessionManager owns the access token and its expiry.
//
// Thread Safety: all methods are safe for concurrent use. Concurrent
// EnsureValid calls on an expired session share a single renewal.
type SessionManager struct {
	t        *transport
	email    string
	password string
	maxLife  time.Duration
	store    SessionStore

	mu      sync.RWMutex
	current Session

	group  singleflight.Group
	logger Logger
	now    func() time.Time
}

func newSessionManager(t *transport, opts Options) *SessionManager {
	return &SessionManager{
		t:        t,
		email:    opts.Email,
		password: opts.Password,
		maxLife:  opts.MaxSessionLifetime,
		store:    opts.Store,
		logger:   noopLogger{},
		now:      opts.Now,
	}
}

// SetLogger sets the logger for the session manager.
func (m *SessionManager) SetLogger(logger Logger) {
	m.logger = logger
}

// Email returns the account email.
func (m *SessionManager) Email() string {
	return m.email
}

// Current returns the in-memory session, which may be expired or empty.
func (m *SessionManager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Restore loads a persisted session. An expired or missing session is not
// an error; the next EnsureValid renews it.
func (m *SessionManager) Restore(ctx context.Context) error {
	if m.store == nil || m.email == "" {
		return nil
	}
	s, err := m.store.Load(ctx, m.email)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.logger.Info("restored vendor session",
		"expires_at", s.ExpiresAt.Format(time.RFC3339),
		"valid", s.Valid(m.now()),
	)
	return nil
}

// EnsureValid returns a session whose expiry is in the future, renewing
// it first if needed (refresh, then login). The stale token is never
// used for a downstream request.
//
// The renewal is shared by every concurrent caller and is not cancelled
// with any one of them; each request in it is bounded by the transport
// timeout. A caller whose ctx ends stops waiting and gets ErrNetwork.
func (m *SessionManager) EnsureValid(ctx context.Context) (Session, error) {
	if s, ok := m.valid(); ok {
		return s, nil
	}

	renewCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("renew", func() (any, error) {
		// Another caller may have renewed while this one waited.
		if s, ok := m.valid(); ok {
			return s, nil
		}
		return m.Refresh(renewCtx)
	})

	select {
	case <-ctx.Done():
		return Session{}, fmt.Errorf("%w: waiting for session renewal: %w", ErrNetwork, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		if res.Shared {
			m.logger.Debug("shared in-flight session renewal")
		}
		return res.Val.(Session), nil
	}
}

func (m *SessionManager) valid() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current.Valid(m.now())
}

// Refresh exchanges the refresh token for a new access token. Any failure,
// including having no refresh token, falls through to Login.
func (m *SessionManager) Refresh(ctx context.Context) (Session, error) {
	m.mu.RLock()
	refreshToken := m.current.RefreshToken
	heldToken := m.current.AccessToken
	m.mu.RUnlock()

	if refreshToken == "" {
		return m.Login(ctx)
	}

	s, err := m.refresh(ctx, refreshToken, heldToken)
	if err != nil {
		m.logger.Warn("token refresh failed, logging in", "error", err)
		m.discard()
		return m.Login(ctx)
	}

	m.adopt(ctx, s)
	m.logger.Info("vendor session refreshed", "expires_at", s.ExpiresAt.Format(time.RFC3339))
	return s, nil
}

// refresh calls the refresh endpoint with the held access token. The
// vendor answers either inside the usual envelope or with the token
// fields at the top level of the body.
func (m *SessionManager) refresh(ctx context.Context, refreshToken, heldToken string) (Session, error) {
	data, err := m.t.do(ctx, request{
		path:  pathRefresh,
		body:  map[string]any{"refresh_token": refreshToken},
		token: heldToken,
		bare:  true,
	})
	if err != nil {
		return Session{}, err
	}

	var resp struct {
		AccessToken  string      `json:"access_token"`
		Token        string      `json:"token"`
		RefreshToken string      `json:"refresh_token"`
		ExpiresIn    json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return Session{}, fmt.Errorf("%w: decoding refresh response: %w", ErrAuth, err)
	}

	token := firstNonEmpty(resp.AccessToken, resp.Token)
	if token == "" {
		return Session{}, fmt.Errorf("%w: refresh response has no access token", ErrAuth)
	}

	return Session{
		Email:        m.email,
		AccessToken:  token,
		RefreshToken: firstNonEmpty(resp.RefreshToken, refreshToken),
		ExpiresAt:    m.expiry(token, resp.ExpiresIn),
	}, nil
}

// Login authenticates with the account credentials.
func (m *SessionManager) Login(ctx context.Context) (Session, error) {
	if m.email == "" || m.password == "" {
		return Session{}, ErrMissingCredentials
	}

	data, err := m.t.do(ctx, request{
		path: pathLogin,
		body: map[string]any{
			"appId":              appID,
			"appSn":              appSN,
			"country":            country,
			"email":              m.email,
			"password":           HashPassword(m.password),
			"phoneBrand":         "",
			"phoneSystemVersion": "",
			"timezone":           m.t.timezone,
			"thirdId":            nil,
			"type":               nil,
		},
	})
	if err != nil {
		// Any envelope rejection at login is a credential problem.
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return Session{}, fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return Session{}, err
	}

	var resp struct {
		Token             string      `json:"token"`
		RefreshToken      string      `json:"refreshToken"`
		RefreshTokenSnake string      `json:"refresh_token"`
		ExpiresIn         json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return Session{}, fmt.Errorf("%w: decoding login response: %w", ErrAuth, err)
	}
	if resp.Token == "" {
		return Session{}, fmt.Errorf("%w: login response has no token", ErrAuth)
	}

	s := Session{
		Email:        m.email,
		AccessToken:  resp.Token,
		RefreshToken: firstNonEmpty(resp.RefreshToken, resp.RefreshTokenSnake),
		ExpiresAt:    m.expiry(resp.Token, resp.ExpiresIn),
	}
	m.adopt(ctx, s)
	m.logger.Info("logged in to vendor", "expires_at", s.ExpiresAt.Format(time.RFC3339))
	return s, nil
}

// Logout ends the session on the server and discards it locally. A failed
// server call is logged; the local session is discarded regardless.
func (m *SessionManager) Logout(ctx context.Context) error {
	s := m.Current()
	if s.Valid(m.now()) {
		if _, err := m.t.do(ctx, request{path: pathLogout, token: s.AccessToken}); err != nil {
			m.logger.Warn("vendor logout failed", "error", err)
		}
	}

	m.discard()
	if m.store != nil && m.email != "" {
		if err := m.store.Delete(ctx, m.email); err != nil {
			return fmt.Errorf("deleting stored session: %w", err)
		}
	}
	return nil
}

// Invalidate drops the in-memory session so the next call renews it.
// The refresh token is kept.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.AccessToken = ""
	m.current.ExpiresAt = time.Time{}
}

func (m *SessionManager) discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Session{}
}

func (m *SessionManager) adopt(ctx context.Context, s Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, s); err != nil {
		m.logger.Warn("persisting vendor session failed", "error", err)
	}
}

// expiry derives the expiry instant from the stated lifetime, falling
// back to the token's exp claim and then the default lifetime.
func (m *SessionManager) expiry(token string, expiresIn json.Number) time.Time {
	now := m.now()

	var lifetime time.Duration
	if secs, err := expiresIn.Int64(); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	} else if exp, ok := tokenExpiry(token); ok && exp.After(now) {
		lifetime = exp.Sub(now)
	} else {
		lifetime = defaultSessionLifetime
	}

	if m.maxLife > 0 && lifetime > m.maxLife {
		lifetime = m.maxLife
	}
	return now.Add(lifetime)
}

// tokenExpiry reads the exp claim of a JWT without verifying it. The
// signing key is the vendor's; only the claimed expiry is of interest.
func tokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// HashPassword returns the lowercase hex MD5 digest the vendor expects in
// the login payload.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password)) //nolint:gosec // protocol requirement
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
