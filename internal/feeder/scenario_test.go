package feeder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
)

// TestScenario_VendorRoundTrip drives a real client against a vendor
// stand-in: log in, list devices through the cache, read and rotate.
func TestScenario_VendorRoundTrip(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	position := 0
	tokens := []string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hits[r.URL.Path]++
		if tok := r.Header.Get("token"); tok != "" {
			tokens = append(tokens, tok)
		}

		var data any
		switch r.URL.Path {
		case "/member/auth/login":
			data = map[string]any{"token": "abc123", "expires_in": 3600}
		case "/device/device/list":
			data = []any{map[string]any{"deviceSn": "SN1", "deviceModel": "PLAF109", "deviceName": "Kitchen"}}
		case "/device/device/realInfo":
			data = map[string]any{"platePosition": position, "temperature": 5.5}
		case "/device/wetFeedingPlan/platePositionChange":
			position = (position + 1) % 3
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "success", "data": data})
	}))
	t.Cleanup(srv.Close)

	client := petlibro.New(petlibro.Options{
		Email:    "owner@example.com",
		Password: "hunter2",
		BaseURL:  srv.URL,
	})
	s := New(client, Options{Email: "owner@example.com", DeviceID: "SN1"})
	t.Cleanup(s.Close)
	ctx := context.Background()

	devices, err := s.Devices(ctx, false)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "SN1", devices[0].ID)
	assert.Equal(t, "PLAF109", devices[0].Model)

	_, err = s.Devices(ctx, false)
	require.NoError(t, err)
	stats := s.CacheStats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Hits)

	out, err := s.SetTrayPosition(ctx, "", 60)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Actual)

	snap, err := s.Snapshot(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TrayPosition)
	assert.InDelta(t, 5.5, snap.Temperature, 1e-9)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits["/member/auth/login"])
	assert.Equal(t, 1, hits["/device/device/list"])
	for _, tok := range tokens {
		assert.Equal(t, "abc123", tok)
	}
}
