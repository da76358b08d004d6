package feeder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
	"github.com/nerrad567/gray-logic-petfeeder/internal/cache"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// Default TTLs, used for any zero field in TTLs.
const (
	DefaultAuthTTL          = 50 * time.Minute
	DefaultDeviceListTTL    = 30 * time.Minute
	DefaultRealInfoTTL      = 2 * time.Minute
	DefaultFeedingStatusTTL = 30 * time.Second
	DefaultControlActionTTL = 5 * time.Second

	DefaultRefreshInterval = 90 * time.Second
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

// Vendor is the subset of *petlibro.Client the service drives.
type Vendor interface {
	EnsureSession(ctx context.Context) (petlibro.Session, error)
	ListDevices(ctx context.Context) ([]petlibro.DeviceRecord, error)
	RealInfo(ctx context.Context, deviceID string) (petlibro.Snapshot, error)
	GrainStatus(ctx context.Context, deviceID string) (json.RawMessage, error)
	FeedingPlanToday(ctx context.Context, deviceID string) (json.RawMessage, error)
	WetFeedingPlan(ctx context.Context, deviceID string) (json.RawMessage, error)
	WorkRecord(ctx context.Context, deviceID string) (json.RawMessage, error)
	DefaultMatrix(ctx context.Context, deviceID string) (json.RawMessage, error)
	StartManualFeed(ctx context.Context, deviceID string) (petlibro.FeedSession, error)
	StopManualFeed(ctx context.Context, deviceID, feedID string) (petlibro.StopResult, error)
	RotateTray(ctx context.Context, deviceID string) error
	PlayAudio(ctx context.Context, deviceID string) error
	ManualFeeding(ctx context.Context, deviceID string, portions int) (string, error)
	ApplySetting(ctx context.Context, deviceID string, s petlibro.Setting) (json.RawMessage, error)
}

// History receives every control action. Close flushes pending entries.
type History interface {
	Record(a audit.Action)
	Close()
}

// TTLs are the cache lifetimes per key family.
type TTLs struct {
	Auth          time.Duration
	DeviceList    time.Duration
	RealInfo      time.Duration
	FeedingStatus time.Duration
	ControlAction time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Auth <= 0 {
		t.Auth = DefaultAuthTTL
	}
	if t.DeviceList <= 0 {
		t.DeviceList = DefaultDeviceListTTL
	}
	if t.RealInfo <= 0 {
		t.RealInfo = DefaultRealInfoTTL
	}
	if t.FeedingStatus <= 0 {
		t.FeedingStatus = DefaultFeedingStatusTTL
	}
	if t.ControlAction <= 0 {
		t.ControlAction = DefaultControlActionTTL
	}
	return t
}

// Options configures a Service.
type Options struct {
	// Email names the account in cache keys.
	Email string

	// DeviceID is the feeder used when an operation names none. When
	// empty, or absent from the account, the first device is used.
	DeviceID string

	// Portions is the default grain count for Feed.
	Portions int

	TTLs TTLs

	// BackgroundRefresh keeps snapshots of devices that have been read
	// warm, every RefreshInterval.
	BackgroundRefresh bool
	RefreshInterval   time.Duration

	// SettleDelay is the pause between tray rotation steps. Negative takes
	// the planner default.
	SettleDelay time.Duration

	// Cache is the request cache. When nil the service creates one.
	Cache *cache.RequestCache

	// History records control actions. Optional.
	History History
}

// Service is the cached control surface for the account's feeders.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	vendor  Vendor
	cache   *cache.RequestCache
	planner *tray.Planner
	history History

	email    string
	deviceID string
	portions int
	ttl      TTLs

	refresh         bool
	refreshInterval time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	feeds   map[string]petlibro.FeedSession
	watched map[string]bool
	closed  bool

	logger Logger
}

// New creates a Service. Close must be called to stop background work.
func New(vendor Vendor, opts Options) *Service {
	c := opts.Cache
	if c == nil {
		c = cache.New(cache.Options{})
	}
	if opts.Portions < 1 {
		opts.Portions = 1
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	s := &Service{
		vendor:          vendor,
		cache:           c,
		history:         opts.History,
		email:           opts.Email,
		deviceID:        opts.DeviceID,
		portions:        opts.Portions,
		ttl:             opts.TTLs.withDefaults(),
		refresh:         opts.BackgroundRefresh,
		refreshInterval: opts.RefreshInterval,
		locks:           make(map[string]*sync.Mutex),
		feeds:           make(map[string]petlibro.FeedSession),
		watched:         make(map[string]bool),
		logger:          noopLogger{},
	}
	s.planner = tray.NewPlanner(rotator{s: s}, opts.SettleDelay)
	return s
}

// SetLogger sets the logger for the service and its planner.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
	s.planner.SetLogger(logger)
}

// DefaultDeviceID returns the configured device id, which may be empty.
func (s *Service) DefaultDeviceID() string {
	return s.deviceID
}

// CacheStats returns the request cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// CacheInfo describes one cache key.
func (s *Service) CacheInfo(key string) cache.EntryInfo {
	return s.cache.Info(key)
}

// ResetCacheStats zeroes the request cache counters.
func (s *Service) ResetCacheStats() {
	s.cache.ResetStats()
}

// Close stops background refresh, closes the cache and flushes the
// history. It is safe to call more than once.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cache.Close()
	if s.history != nil {
		s.history.Close()
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// deviceLock returns the mutex serialising control actions on deviceID.
func (s *Service) deviceLock(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[deviceID] = l
	}
	return l
}

// ResolveDevice returns the device an operation applies to: deviceID when
// given, else the configured device, else the first device on the account.
func (s *Service) ResolveDevice(ctx context.Context, deviceID string) (string, error) {
	if deviceID != "" {
		return deviceID, nil
	}

	devices, err := s.Devices(ctx, false)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("%w: no feeders on the account", petlibro.ErrNotFound)
	}
	if s.deviceID == "" {
		return devices[0].ID, nil
	}
	for _, d := range devices {
		if d.ID == s.deviceID {
			return d.ID, nil
		}
	}

	s.logger.Warn("configured feeder not found on account, using first device",
		"device_id", s.deviceID,
		"fallback_device_id", devices[0].ID,
		"error_kind", petlibro.KindNotFound,
	)
	return devices[0].ID, nil
}

// onError drops the cached session when the vendor rejected it.
func (s *Service) onError(err error) {
	if petlibro.KindOf(err) == petlibro.KindAuth {
		s.cache.Invalidate(cache.AuthKey(s.email))
	}
}
