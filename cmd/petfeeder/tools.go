package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nerrad567/gray-logic-petfeeder/internal/feeder"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-petfeeder/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// withService loads the configuration and runs fn against a feeder service
// that shares the daemon's stored session. Logs go to stderr so command
// output stays clean.
func withService(ctx context.Context, configPath string, fn func(ctx context.Context, svc *feeder.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Petlibro.HasCredentials() {
		return petlibro.ErrMissingCredentials
	}

	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	log := logging.New(logCfg, version)
	defer log.Close() //nolint:errcheck // nothing useful to do with a close error at exit

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only use

	vendor, err := newVendor(ctx, cfg, petlibro.NewSQLiteSessionStore(db.DB), log)
	if err != nil {
		return err
	}

	cfg.Cache.BackgroundRefresh = false
	svc := newService(cfg, vendor, nil, log)
	defer svc.Close()

	return fn(ctx, svc)
}

// check logs in and lists the feeders, bypassing every cache.
func check(ctx context.Context, configPath string, out io.Writer) error {
	return withService(ctx, configPath, func(ctx context.Context, svc *feeder.Service) error {
		sess, err := svc.Session(ctx, true)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Fprintf(out, "Logged in as %s (session valid until %s)\n",
			logging.RedactEmail(sess.Email), sess.ExpiresAt.Local().Format("2006-01-02 15:04:05"))

		devices, err := svc.Devices(ctx, true)
		if err != nil {
			return fmt.Errorf("listing feeders: %w", err)
		}
		if len(devices) == 0 {
			return errNoDevices
		}
		fmt.Fprintf(out, "Found %d feeder(s)\n", len(devices))
		return writeDevices(out, devices)
	})
}

func listDevices(ctx context.Context, configPath string, out io.Writer) error {
	return withService(ctx, configPath, func(ctx context.Context, svc *feeder.Service) error {
		devices, err := svc.Devices(ctx, false)
		if err != nil {
			return fmt.Errorf("listing feeders: %w", err)
		}
		if len(devices) == 0 {
			fmt.Fprintln(out, "No feeders found")
			return nil
		}
		return writeDevices(out, devices)
	})
}

func writeDevices(out io.Writer, devices []petlibro.DeviceRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODEL\tNAME")
	for _, d := range devices {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Model, d.Name)
	}
	return w.Flush()
}

// snapshot prints one feeder's state as JSON. An empty id selects the
// configured feeder.
func snapshot(ctx context.Context, configPath, deviceID string, force bool, out io.Writer) error {
	return withService(ctx, configPath, func(ctx context.Context, svc *feeder.Service) error {
		snap, err := svc.Snapshot(ctx, deviceID, force)
		if err != nil {
			return fmt.Errorf("reading snapshot: %w", err)
		}
		return writeSnapshot(out, snap)
	})
}

func writeSnapshot(out io.Writer, snap petlibro.Snapshot) error {
	view := struct {
		petlibro.Snapshot
		TrayPercentage int `json:"tray_percentage"`
	}{
		Snapshot:       snap,
		TrayPercentage: tray.PositionToPercentage(snap.TrayPosition),
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
