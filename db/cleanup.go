package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PruneResult reports what Prune removed.
type PruneResult struct {
	RunsDeleted   int64
	ImagesDeleted int64
	// ImagePaths are the files referenced by deleted image rows. Prune does
	// not touch the filesystem; callers decide whether to remove them.
	ImagePaths []string
	Duration   time.Duration
}

// Prune deletes runs created before cutoff together with their image rows
// and then runs VACUUM. The deletion is a single transaction.
func (d *Database) Prune(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	start := time.Now()
	result := PruneResult{}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return result, ErrDatabaseClosed
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	paths, err := expiredImagePaths(ctx, tx, cutoff)
	if err != nil {
		return result, err
	}

	// Image rows go with their runs through ON DELETE CASCADE.
	res, err := tx.ExecContext(ctx, `DELETE FROM generation_runs WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return result, fmt.Errorf("failed to delete generation runs: %w", err)
	}
	if result.RunsDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit prune: %w", err)
	}
	result.ImagePaths = paths
	result.ImagesDeleted = int64(len(paths))

	if result.RunsDeleted > 0 {
		if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
			return result, fmt.Errorf("failed to vacuum database: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func expiredImagePaths(ctx context.Context, tx *sql.Tx, cutoff time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT i.path FROM generated_images i
		JOIN generation_runs r ON r.id = i.run_id
		WHERE r.created_at < ?
		ORDER BY i.id`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired images: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan image path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
