package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jaypaulb/sdbridge/core"

	"go.uber.org/zap"
)

// CleanupPartialFiles returns a shutdown function that deletes files in dir
// matching pattern, such as images whose write was interrupted. Failures
// are logged and never block shutdown.
//
//	m.Register("partial-images", 40, shutdown.CleanupPartialFiles(logger, outDir, imagegen.PartialPattern))
func CleanupPartialFiles(logger *zap.Logger, dir, pattern string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		removeMatching(ctx, logger, dir, pattern)
		return nil
	}
}

// removeMatching returns the number of files removed.
func removeMatching(ctx context.Context, logger *zap.Logger, dir, pattern string) int {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		logger.Error("Failed to list partial files",
			zap.String("directory", dir),
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return 0
	}
	if len(matches) == 0 {
		return 0
	}

	var removed, failed int
	for _, match := range matches {
		if ctx.Err() != nil {
			logger.Warn("Shutdown context cancelled during cleanup",
				zap.Int("removed", removed),
				zap.Int("remaining", len(matches)-removed-failed),
			)
			return removed
		}

		if err := os.Remove(match); err != nil {
			failed++
			logger.Warn("Failed to remove partial file",
				zap.String("file", filepath.Base(match)),
				zap.Error(err),
			)
			continue
		}
		removed++
	}

	logger.Info("Removed partial files",
		zap.String("directory", dir),
		zap.Int("removed", removed),
		zap.Int("failed", failed),
	)
	return removed
}
