/*
Package log provides structured logging for tarn using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ─────────────────────┐
	│                                                          │
	│  ┌───────────────────────────────────────────┐           │
	│  │            Global Logger                  │           │
	│  │  - Zerolog instance                       │           │
	│  │  - Initialized via log.Init()             │           │
	│  │  - Thread-safe for concurrent use         │           │
	│  └──────────────────┬────────────────────────┘           │
	│                     │                                    │
	│  ┌──────────────────▼────────────────────────┐           │
	│  │         Component Loggers                 │           │
	│  │  - WithComponent("versioned-store")       │           │
	│  │  - WithRepo(repoID), WithRef(name)        │           │
	│  │  - Inherit global level and output        │           │
	│  └───────────────────────────────────────────┘           │
	│                                                          │
	└──────────────────────────────────────────────────────────┘

# Usage

Initialize once at process start:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Create component-scoped loggers in constructors:

	logger := log.WithComponent("catalog")
	logger.Info().Str("ref", "main").Int("operations", 3).Msg("catalog commit")

Attach errors with structured context:

	logger.Error().Err(err).Str("key", key.String()).Msg("failed to load content")

# Log Levels

  - debug: commit internals, CAS retries, index segment traffic
  - info: reference updates, catalog commits, repository lifecycle
  - warn: recoverable anomalies (stale name registry entries, task retries)
  - error: failed operations surfaced to callers

Console output (JSONOutput: false) is for interactive use of the tarn
binary; services ingesting logs should enable JSON output.

# Integration Points

Every long-lived component takes its logger from WithComponent at
construction: the storage retry decorator, the reference manager, the
versioned store, the catalog service and the task cache. Nothing logs
through ambient fmt printing.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
