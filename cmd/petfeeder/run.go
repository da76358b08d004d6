package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-petfeeder/internal/api"
	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
	"github.com/nerrad567/gray-logic-petfeeder/internal/bridges/petfeeder"
	"github.com/nerrad567/gray-logic-petfeeder/internal/cache"
	"github.com/nerrad567/gray-logic-petfeeder/internal/feeder"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
)

// startupTimeout bounds connecting to the optional infrastructure.
const startupTimeout = 15 * time.Second

// run is the bridge daemon, separated from main for testability. It
// returns nil on a clean shutdown.
//
// Missing vendor credentials do not stop the bridge: every command
// re-attempts authentication and fails with an auth error until they are
// configured.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting pet feeder bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing useful to do with a close error at exit
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if !cfg.Petlibro.HasCredentials() {
		log.Warn("petlibro credentials not configured, feeder commands will fail until they are set",
			"hint", "set PETFEEDER_PETLIBRO_EMAIL and PETFEEDER_PETLIBRO_PASSWORD")
	}

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	vendor, err := newVendor(ctx, cfg, petlibro.NewSQLiteSessionStore(db.DB), log)
	if err != nil {
		return err
	}

	var influx *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influx, err = connectInflux(ctx, cfg.InfluxDB, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing InfluxDB")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log.WithComponent("history"))
	var history feeder.History = recorder
	if influx != nil {
		history = telemetryHistory{History: recorder, influx: influx}
	}

	svc := newService(cfg, vendor, history, log)
	defer func() {
		log.Info("closing feeder service")
		svc.Close()
	}()

	components := map[string]api.HealthChecker{"database": db}
	if influx != nil {
		components["influxdb"] = influx
	}

	if cfg.Bridge.Enabled {
		mqttClient, bridge, startErr := startBridge(ctx, cfg, svc, influx, log)
		if startErr != nil {
			return startErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer bridge.Stop()
		components["mqtt"] = mqttClient
	}

	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.WithComponent("api"),
			Feeder:     svc,
			History:    audit.NewSQLiteRepository(db.DB),
			Components: components,
			Version:    version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("pet feeder bridge ready",
		"bridge", cfg.Bridge.Enabled,
		"api", cfg.API.Enabled,
		"influxdb", cfg.InfluxDB.Enabled,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // the migration error is the one worth reporting
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Path)
	return db, nil
}

// newVendor creates the vendor client and restores a persisted session.
// store may be nil.
func newVendor(ctx context.Context, cfg *config.Config, store petlibro.SessionStore, log *logging.Logger) (*petlibro.Client, error) {
	client := petlibro.New(petlibro.Options{
		Email:              cfg.Petlibro.Email,
		Password:           cfg.Petlibro.Password,
		Timezone:           cfg.Petlibro.Timezone,
		BaseURL:            cfg.Petlibro.BaseURL,
		Timeout:            cfg.Petlibro.Timeout,
		FeedTimeout:        cfg.Petlibro.FeedTimeout,
		MaxSessionLifetime: cfg.Cache.AuthTTL,
		RateLimit:          cfg.Petlibro.RateLimit,
		RateBurst:          cfg.Petlibro.RateBurst,
		Store:              store,
	})
	client.SetLogger(log.WithComponent("petlibro"))

	if err := client.Session().Restore(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// newService creates the cached feeder service. history may be nil.
func newService(cfg *config.Config, vendor feeder.Vendor, history feeder.History, log *logging.Logger) *feeder.Service {
	c := cache.New(cache.Options{CleanupInterval: cfg.Cache.CleanupInterval})
	c.SetLogger(log.WithComponent("cache"))

	svc := feeder.New(vendor, feeder.Options{
		Email:    cfg.Petlibro.Email,
		DeviceID: cfg.Petlibro.DeviceID,
		Portions: cfg.Petlibro.Portions,
		TTLs: feeder.TTLs{
			Auth:          cfg.Cache.AuthTTL,
			DeviceList:    cfg.Cache.DeviceListTTL,
			RealInfo:      cfg.Cache.RealInfoTTL,
			FeedingStatus: cfg.Cache.FeedingStatusTTL,
			ControlAction: cfg.Cache.ControlActionTTL,
		},
		BackgroundRefresh: cfg.Cache.BackgroundRefresh,
		RefreshInterval:   cfg.Cache.RefreshInterval,
		SettleDelay:       cfg.Tray.SettleDelay,
		Cache:             c,
		History:           history,
	})
	svc.SetLogger(log.WithComponent("feeder"))
	return svc
}

// connectInflux connects to InfluxDB and logs asynchronous write failures.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	client, err := influxdb.Connect(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write failed", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return client, nil
}

// startBridge connects to MQTT and starts the feeder bridge. influx may be
// nil.
func startBridge(ctx context.Context, cfg *config.Config, svc *feeder.Service, influx *influxdb.Client, log *logging.Logger) (*mqtt.Client, *petfeeder.Bridge, error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.WithComponent("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	opts := petfeeder.Options{
		Controller:     svc,
		MQTT:           mqttClient,
		BridgeID:       cfg.MQTT.Broker.ClientID,
		Version:        version,
		QoS:            mqttClient.QoS(),
		PollInterval:   cfg.Bridge.PollInterval,
		HealthInterval: cfg.Bridge.HealthInterval,
		Logger:         log.WithComponent("bridge"),
	}
	if influx != nil {
		opts.Telemetry = influx
	}

	bridge, err := petfeeder.New(opts)
	if err == nil {
		err = bridge.Start(ctx)
	}
	if err != nil {
		mqttClient.Close() //nolint:errcheck // the bridge error is the one worth reporting
		return nil, nil, fmt.Errorf("starting feeder bridge: %w", err)
	}
	return mqttClient, bridge, nil
}

// telemetryHistory also writes every recorded action to InfluxDB.
type telemetryHistory struct {
	feeder.History
	influx *influxdb.Client
}

func (h telemetryHistory) Record(a audit.Action) {
	h.History.Record(a)
	at := a.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	h.influx.WriteAction(a.DeviceID, a.Action, a.Success, a.ErrorKind, at)
}

var errNoDevices = errors.New("no feeders on the account")
