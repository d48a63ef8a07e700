/*
Package log provides structured logging for bellhop using zerolog.

Init configures the global Logger once at startup: console output by
default, JSON with Config.JSONOutput. Components derive child loggers that
carry their identity on every line:

	logger := log.WithBoard("reconciler", "acme", "order")
	logger.Info().Int("records", 12).Msg("Board seeded")

	log.WithComponent("stream").Debug().Msg("Stream client connected")

Fields used across the code base are component, tenant_id, kind, record_id,
target and board.
*/
package log
