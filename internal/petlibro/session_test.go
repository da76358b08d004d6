package petlibro

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-petfeeder/migrations"
)

func TestHashPassword(t *testing.T) {
	assert.Equal(t, "5f4dcc3b5aa765d61d8327deb882cf99", HashPassword("password"))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", HashPassword(""))
}

func TestLogin_Success(t *testing.T) {
	vendor := newFakeVendor(t)
	clk := newClock()
	client := vendor.client(Options{Now: clk.Now, Timezone: "Europe/London"})

	sess, err := client.Session().Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "abc123", sess.AccessToken)
	assert.Equal(t, "r1", sess.RefreshToken)
	assert.Equal(t, clk.Now().Add(time.Hour), sess.ExpiresAt)
	assert.True(t, sess.Valid(clk.Now()))

	calls := vendor.calls(pathLogin)
	require.Len(t, calls, 1)
	body := calls[0].Body
	assert.Equal(t, "owner@example.com", body["email"])
	assert.Equal(t, HashPassword("hunter2"), body["password"])
	assert.Equal(t, appSN, body["appSn"])
	assert.EqualValues(t, 1, body["appId"])
	assert.Equal(t, "US", body["country"])
	assert.Equal(t, "Europe/London", body["timezone"])
	assert.Contains(t, body, "thirdId")
	assert.Nil(t, body["thirdId"])

	hdr := calls[0].Header
	assert.Equal(t, "ANDROID", hdr.Get("source"))
	assert.Equal(t, "EN", hdr.Get("language"))
	assert.Equal(t, appVersion, hdr.Get("version"))
	assert.Equal(t, "Europe/London", hdr.Get("timezone"))
	assert.Empty(t, hdr.Get("Authorization"), "login must not carry a credential")
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		response any
	}{
		{"non-zero code", fail(1001, "wrong password")},
		{"missing token", ok(map[string]any{"refreshToken": "r1"})},
		{"data not an object", ok("nope")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vendor := newFakeVendor(t)
			vendor.handle(pathLogin, func(recordedRequest) any { return tt.response })
			client := vendor.client(Options{})

			_, err := client.Session().Login(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuth)
			assert.Equal(t, KindAuth, KindOf(err))
		})
	}
}

func TestLogin_APIErrorKeepsVendorMessage(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathLogin, func(recordedRequest) any { return fail(1001, "wrong password") })

	_, err := vendor.client(Options{}).Session().Login(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1001, apiErr.Code)
	assert.Equal(t, "wrong password", apiErr.Msg)
}

func TestLogin_MissingCredentials(t *testing.T) {
	vendor := newFakeVendor(t)
	client := New(Options{BaseURL: vendor.server.URL})

	_, err := client.Session().EnsureValid(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Empty(t, vendor.paths(), "no request without credentials")
}

func TestEnsureValid_ReusesValidSession(t *testing.T) {
	vendor := newFakeVendor(t)
	client := vendor.client(Options{})

	for i := 0; i < 3; i++ {
		_, err := client.Session().EnsureValid(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, vendor.calls(pathLogin), 1)
}

func TestEnsureValid_ExpiredSessionRefreshesBeforeUse(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathRefresh, func(recordedRequest) any {
		return ok(map[string]any{"access_token": "fresh", "expires_in": 1800})
	})
	vendor.handle(pathDeviceList, func(recordedRequest) any { return ok([]any{}) })

	clk := newClock()
	client := vendor.client(Options{Now: clk.Now})
	client.Session().current = Session{
		Email:        "owner@example.com",
		AccessToken:  "stale",
		RefreshToken: "r0",
		ExpiresAt:    clk.Now().Add(-time.Second),
	}

	_, err := client.ListDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{pathRefresh, pathDeviceList}, vendor.paths())
	refresh := vendor.calls(pathRefresh)[0]
	assert.Equal(t, "r0", refresh.Body["refresh_token"])
	assert.Equal(t, "stale", refresh.Header.Get("token"), "refresh carries the held token")

	list := vendor.calls(pathDeviceList)[0]
	assert.Equal(t, "Bearer fresh", list.Header.Get("Authorization"))
	assert.Equal(t, "fresh", list.Header.Get("token"))

	sess := client.Session().Current()
	assert.Equal(t, "r0", sess.RefreshToken, "refresh token kept when not rotated")
	assert.Equal(t, clk.Now().Add(30*time.Minute), sess.ExpiresAt)
}

func TestEnsureValid_RefreshAcceptsTopLevelTokenFields(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathRefresh, func(recordedRequest) any {
		return map[string]any{"access_token": "refreshed", "expires_in": 3600}
	})

	clk := newClock()
	client := vendor.client(Options{Now: clk.Now})
	client.Session().current = Session{
		Email:        "owner@example.com",
		AccessToken:  "abc123",
		RefreshToken: "r1",
		ExpiresAt:    clk.Now().Add(-2 * time.Hour),
	}

	sess, err := client.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", sess.AccessToken)
	assert.Equal(t, clk.Now().Add(time.Hour), sess.ExpiresAt)
	assert.Equal(t, []string{pathRefresh}, vendor.paths(), "no fallback login")

	refresh := vendor.calls(pathRefresh)[0]
	assert.Equal(t, "Bearer abc123", refresh.Header.Get("Authorization"))
	assert.Equal(t, "r1", refresh.Body["refresh_token"])
}

func TestEnsureValid_RefreshFailureFallsBackToLogin(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathRefresh, func(recordedRequest) any { return fail(401, "refresh token expired") })

	clk := newClock()
	client := vendor.client(Options{Now: clk.Now})
	client.Session().current = Session{AccessToken: "stale", RefreshToken: "r0", ExpiresAt: clk.Now()}

	sess, err := client.Session().EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", sess.AccessToken)
	assert.Equal(t, []string{pathRefresh, pathLogin}, vendor.paths())
}

func TestEnsureValid_ExpiryIsStrict(t *testing.T) {
	clk := newClock()
	s := Session{AccessToken: "t", ExpiresAt: clk.Now()}
	assert.False(t, s.Valid(clk.Now()), "expiry equal to now is not valid")
	assert.True(t, s.Valid(clk.Now().Add(-time.Nanosecond)))
}

func TestEnsureValid_ConcurrentCallersShareOneLogin(t *testing.T) {
	vendor := newFakeVendor(t)
	var logins atomic.Int32
	release := make(chan struct{})
	vendor.handle(pathLogin, func(recordedRequest) any {
		logins.Add(1)
		<-release
		return ok(map[string]any{"token": "abc123", "expires_in": 3600})
	})
	client := vendor.client(Options{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Session().EnsureValid(context.Background())
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return logins.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the other callers queue on the flight
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, logins.Load())
}

func TestEnsureValid_CancelledCallerDoesNotFailOthers(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathLogin, func(recordedRequest) any {
		time.Sleep(200 * time.Millisecond)
		return ok(map[string]any{"token": "abc123", "expires_in": 3600})
	})
	client := vendor.client(Options{})

	impatient, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var impatientErr, patientErr error
	var patient Session
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, impatientErr = client.Session().EnsureValid(impatient)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		patient, patientErr = client.Session().EnsureValid(context.Background())
	}()
	wg.Wait()

	assert.ErrorIs(t, impatientErr, ErrNetwork)
	assert.ErrorIs(t, impatientErr, context.DeadlineExceeded)
	require.NoError(t, patientErr)
	assert.Equal(t, "abc123", patient.AccessToken)
	assert.Len(t, vendor.calls(pathLogin), 1)
}

func TestEnsureValid_RenewalOutlivesCancelledCaller(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathLogin, func(recordedRequest) any {
		time.Sleep(100 * time.Millisecond)
		return ok(map[string]any{"token": "abc123", "expires_in": 3600})
	})
	client := vendor.client(Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Session().EnsureValid(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		return client.Session().Current().AccessToken == "abc123"
	}, time.Second, 10*time.Millisecond)
}

func TestSessionExpiry(t *testing.T) {
	clk := newClock()
	exp := clk.Now().Add(20 * time.Minute)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).
		SignedString([]byte("vendor-secret"))
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		expiresIn any
		maxLife   time.Duration
		want      time.Duration
	}{
		{"stated lifetime", "abc", 7200, 0, 2 * time.Hour},
		{"stated lifetime as string", "abc", "600", 0, 10 * time.Minute},
		{"capped by max lifetime", "abc", 7200, 50 * time.Minute, 50 * time.Minute},
		{"jwt exp claim", signed, nil, 0, 20 * time.Minute},
		{"default", "abc", nil, 0, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vendor := newFakeVendor(t)
			vendor.handle(pathLogin, func(recordedRequest) any {
				data := map[string]any{"token": tt.token}
				if tt.expiresIn != nil {
					data["expires_in"] = tt.expiresIn
				}
				return ok(data)
			})
			client := vendor.client(Options{Now: clk.Now, MaxSessionLifetime: tt.maxLife})

			sess, err := client.Session().Login(context.Background())
			require.NoError(t, err)
			assert.Equal(t, clk.Now().Add(tt.want), sess.ExpiresAt)
		})
	}
}

func TestSessionPersistence(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:", BusyTimeout: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	store := NewSQLiteSessionStore(db.DB)
	vendor := newFakeVendor(t)
	vendor.handle(pathLogout, func(recordedRequest) any { return ok(nil) })
	clk := newClock()

	first := vendor.client(Options{Now: clk.Now, Store: store})
	_, err = first.Session().EnsureValid(ctx)
	require.NoError(t, err)

	// A second process restores the token instead of logging in.
	second := vendor.client(Options{Now: clk.Now, Store: store})
	require.NoError(t, second.Session().Restore(ctx))
	sess, err := second.Session().EnsureValid(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", sess.AccessToken)
	assert.Len(t, vendor.calls(pathLogin), 1)

	require.NoError(t, second.Session().Logout(ctx))
	assert.Len(t, vendor.calls(pathLogout), 1)
	assert.Equal(t, "Bearer abc123", vendor.calls(pathLogout)[0].Header.Get("Authorization"))
	assert.Empty(t, second.Session().Current().AccessToken)

	_, err = store.Load(ctx, "owner@example.com")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}
