// Package config handles loading and validating DALI Center configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DALICENTER_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token, JWT secret) should be set
// via environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Discovery.ScanTimeout)
package config
