// Package logging provides structured, rotating file logging for the knowledge
// base service. Logs are written as JSON via log/slog to ~/.kbservice/logs/
// by default, optionally tee'd to stderr.
package logging
