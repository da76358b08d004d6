package petlibro

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDevices(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathDeviceList, func(recordedRequest) any {
		return ok([]any{
			map[string]any{"deviceSn": "SN1", "deviceModel": "PLAF109", "deviceName": "Kitchen"},
			map[string]any{"deviceId": "D2", "productIdentifier": "PLAF103", "name": "Hall"},
			map[string]any{"id": 42, "model": "PLWF105"},
			map[string]any{"deviceName": "ghost"},
		})
	})

	devices, err := vendor.client(Options{}).ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3, "a record without any identifier is skipped")

	assert.Equal(t, "SN1", devices[0].ID)
	assert.Equal(t, "PLAF109", devices[0].Model)
	assert.Equal(t, "Kitchen", devices[0].Name)
	assert.Equal(t, "D2", devices[1].ID)
	assert.Equal(t, "PLAF103", devices[1].Model)
	assert.Equal(t, "42", devices[2].ID)
}

func TestListDevices_NullData(t *testing.T) {
	vendor := newFakeVendor(t)
	vendor.handle(pathDeviceList, func(recordedRequest) any { return ok(nil) })

	devices, err := vendor.client(Options{}).ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRealInfo(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		wantPos  int
		wantTemp float64
		wantFeed string
	}{
		{"full", map[string]any{"platePosition": 2, "temperature": 4.5}, 2, 4.5, ""},
		{"defaults", map[string]any{}, 0, DefaultTemperature, ""},
		{"alternate names", map[string]any{"currentPlate": 1, "temp": "6.25"}, 1, 6.25, ""},
		{"out of range position wraps", map[string]any{"platePosition": 4}, 1, DefaultTemperature, ""},
		{"active feed", map[string]any{"platePosition": 0, "currentFeedId": 991}, 0, DefaultTemperature, "991"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vendor := newFakeVendor(t)
			vendor.handle(pathRealInfo, func(recordedRequest) any { return ok(tt.data) })
			clk := newClock()

			snap, err := vendor.client(Options{Now: clk.Now}).RealInfo(context.Background(), "SN1")
			require.NoError(t, err)

			assert.Equal(t, "SN1", snap.DeviceID)
			assert.Equal(t, tt.wantPos, snap.TrayPosition)
			assert.InDelta(t, tt.wantTemp, snap.Temperature, 1e-9)
			assert.Equal(t, tt.wantFeed, snap.ActiveFeedID)
			assert.Equal(t, clk.Now(), snap.FetchedAt)

			call := vendor.calls(pathRealInfo)[0]
			assert.Equal(t, "SN1", call.Body["id"])
			assert.Equal(t, "SN1", call.Body["deviceSn"])
		})
	}
}

func TestReadOnlyEndpoints(t *testing.T) {
	vendor := newFakeVendor(t)
	for _, p := range []string{pathGrainStatus, pathFeedingPlanToday, pathWetFeedingPlan, pathWorkRecord, pathDefaultMatrix} {
		path := p
		vendor.handle(path, func(recordedRequest) any { return ok(map[string]any{"endpoint": path}) })
	}
	client := vendor.client(Options{})
	ctx := context.Background()

	calls := map[string]func() ([]byte, error){
		pathGrainStatus:      func() ([]byte, error) { return client.GrainStatus(ctx, "SN1") },
		pathFeedingPlanToday: func() ([]byte, error) { return client.FeedingPlanToday(ctx, "SN1") },
		pathWetFeedingPlan:   func() ([]byte, error) { return client.WetFeedingPlan(ctx, "SN1") },
		pathWorkRecord:       func() ([]byte, error) { return client.WorkRecord(ctx, "SN1") },
		pathDefaultMatrix:    func() ([]byte, error) { return client.DefaultMatrix(ctx, "SN1") },
	}
	for path, call := range calls {
		data, err := call()
		require.NoError(t, err, path)
		assert.JSONEq(t, `{"endpoint":"`+path+`"}`, string(data))
	}

	matrix := vendor.calls(pathDefaultMatrix)[0]
	assert.Equal(t, "GET", matrix.Method)
	assert.Equal(t, "SN1", matrix.Query.Get("deviceSn"))
}
