// Package observability provides structured logging, metrics, and tracing
// for the save engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger and then does nothing.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds save context to a logger.
// Returns a new logger with save_dir and save_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "/saves/slot", 0x5eed)
//	enriched.Info("doing work") // includes save_dir, save_id
func EnrichLogger(logger *slog.Logger, dir string, identifier uint64) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("save_dir", dir),
		slog.Uint64("save_id", identifier),
	)
}

// LogOpen logs opening a save directory.
func LogOpen(logger *slog.Logger, dir string, blocks int64, created bool) {
	if logger == nil {
		return
	}
	logger.Info("save opened",
		slog.String("save_dir", dir),
		slog.Int64("blocks", blocks),
		slog.Bool("created", created),
	)
}

// LogFlush logs a global save flush.
func LogFlush(logger *slog.Logger, blocks int64, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("global save flushed",
		slog.Int64("blocks", blocks),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBookmarkSaved logs a bookmark write.
func LogBookmarkSaved(logger *slog.Logger, id int, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("bookmark saved",
		slog.Int("bookmark_id", id),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogBookmarkDropped logs a bookmark deleted because it could not survive
// an upgrade or could not be read.
func LogBookmarkDropped(logger *slog.Logger, id int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("bookmark dropped",
		slog.Int("bookmark_id", id),
		slog.String("error", err.Error()),
	)
}

// LogUpgradeStart logs the start of a save upgrade.
func LogUpgradeStart(logger *slog.Logger, changed, removed int) {
	if logger == nil {
		return
	}
	logger.Info("save upgrade starting",
		slog.Int("nodes_changed", changed),
		slog.Int("nodes_removed", removed),
	)
}

// LogUpgradeComplete logs a finished save upgrade.
func LogUpgradeComplete(logger *slog.Logger, relocated, deleted, bookmarksDropped int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("save upgrade completed",
		slog.Int("nodes_relocated", relocated),
		slog.Int("nodes_deleted", deleted),
		slog.Int("bookmarks_dropped", bookmarksDropped),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogUpgradeError logs a failed save upgrade.
func LogUpgradeError(logger *slog.Logger, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("save upgrade failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogClamp logs a bookmark whose dialogue line no longer exists, so its
// position was moved to the nearest surviving line.
func LogClamp(logger *slog.Logger, node string, from, to int) {
	if logger == nil {
		return
	}
	logger.Warn("bookmark dialogue clamped",
		slog.String("node", node),
		slog.Int("from", from),
		slog.Int("to", to),
	)
}

// LogCheckpointDropped logs a checkpoint that was not carried over during
// an upgrade (non-fatal). A nil err means its dialogue line was deleted.
func LogCheckpointDropped(logger *slog.Logger, node string, offset int64, err error) {
	if logger == nil {
		return
	}
	reason := "dialogue deleted"
	if err != nil {
		reason = err.Error()
	}
	logger.Warn("checkpoint dropped",
		slog.String("node", node),
		slog.Int64("offset", offset),
		slog.String("reason", reason),
	)
}

// LogNodeDropped logs a node record that could not be read or copied during
// an upgrade. The node and everything below it are unlinked.
func LogNodeDropped(logger *slog.Logger, parent string, offset int64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node dropped",
		slog.String("parent", parent),
		slog.Int64("offset", offset),
		slog.String("error", err.Error()),
	)
}

// LogHistoryCollision logs two different node histories hashing to the
// same key.
func LogHistoryCollision(logger *slog.Logger, key, next uint64) {
	if logger == nil {
		return
	}
	logger.Warn("node history hash collision",
		slog.Uint64("key", key),
		slog.Uint64("next_key", next),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
