// Package logging is the hub's structured logger, a thin layer over
// log/slog.
//
// Output is JSON by default and logfmt-style text when logging.format is
// "text". Records go to stdout, stderr, a lumberjack-rotated file, or both
// stdout and the file:
//
//	logging:
//	  level: info
//	  format: json
//	  output: both
//	  file:
//	    path: ./logs/snapdog.log
//	    max_size: 50
//
// Subsystems log through a component logger so records can be filtered by
// source:
//
//	log := logging.New(cfg.Logging, version)
//	rpc.SetLogger(log.Component("snapcast"))
//
// Tokens, JWT secrets and MQTT passwords must never be logged.
package logging
