// Package logging builds the slog logger shared by every component.
//
// Records are JSON in production and text during development, and each
// carries the service name and build version. Components log through a
// child logger tagged with their name:
//
//	log := logging.New(cfg.Logging, version)
//	mon := monitor.New(mcfg, monitor.WithLogger(log.Component("monitor")))
//
// Tag values may be logged; tokens and passwords never are.
package logging
