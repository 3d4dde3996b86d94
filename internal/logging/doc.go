// Package logging builds the slog loggers used across the pipeline.
//
// It turns config values (level, format, optional log directory) into a
// configured *slog.Logger, and provides the attr helpers and component
// logger wrapper the rest of the codebase logs through. Console output is
// the default; json is available for machine consumption of run logs.
package logging
