// Package config loads the monitor configuration.
//
// Load reads a YAML file over the built-in defaults, applies GRAYMON_*
// environment overrides and validates the result. Secrets such as the
// JWT key and the InfluxDB token are best supplied through the
// environment so the file can stay world-readable.
//
// Durations are stored as integers in the unit named on each field and
// read through helpers such as RulesConfig.TickDuration and
// SupervisionConfig.SweepDuration:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	debounce := cfg.Rules.TickDuration()
package config
