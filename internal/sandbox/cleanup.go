package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// orphanCleanupLoop periodically removes artifacts left behind by executions
// that never reached their deferred cleanup (e.g. a killed server).
func (e *Engine) orphanCleanupLoop(ctx context.Context, interval time.Duration) {
	// Run once on startup
	e.SweepOrphans(e.sweep)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.SweepOrphans(e.sweep)
		case <-ctx.Done():
			return
		}
	}
}

// SweepOrphans removes artifacts in the work directory whose modification
// time is older than olderThan. It returns how many files were removed.
func (e *Engine) SweepOrphans(olderThan time.Duration) int {
	entries, err := os.ReadDir(e.workDir)
	if err != nil {
		log.Warn().Err(err).Str("work_dir", e.workDir).Msg("orphan sweep failed to list work dir")
		return 0
	}

	cutoff := time.Now().Add(-olderThan)
	var removed int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ArtifactPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(e.workDir, name)
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove orphaned artifact")
			continue
		}
		log.Warn().Str("path", path).Time("modified", info.ModTime()).Msg("removed orphaned artifact")
		removed++
	}

	if removed > 0 {
		log.Info().Int("count", removed).Msg("cleaned up orphaned artifacts")
		e.metrics.RecordArtifactsSwept(removed)
	}
	return removed
}
