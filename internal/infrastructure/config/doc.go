// Package config handles loading and validating the pet feeder bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PETFEEDER_* environment variables
//   - Validation of required fields
//   - Default value handling (vendor endpoint, cache TTLs, tray timing)
//
// Security Considerations:
//   - The vendor password and MQTT/InfluxDB secrets should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Petlibro.BaseURL)
package config
