package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRunNotFound is returned when no run matches an ID or prefix.
	ErrRunNotFound = errors.New("db: generation run not found")
	// ErrAmbiguousRunID is returned when an ID prefix matches several runs.
	ErrAmbiguousRunID = errors.New("db: run id prefix is ambiguous")
)

// Run status values.
const (
	RunStatusSuccess  = "success"
	RunStatusError    = "error"
	RunStatusCanceled = "canceled"
)

// GenerationRun is a row of generation_runs.
type GenerationRun struct {
	ID             string // uuid
	ModelPath      string
	Prompt         string
	NegativePrompt string
	SampleMethod   string
	Steps          int
	CFGScale       float64
	Width          int
	Height         int
	ClipSkip       int
	BatchCount     int
	Seed           int64 // resolved base seed
	DurationMS     int64
	Status         string
	ErrorMessage   string
	CreatedAt      time.Time
}

// GeneratedImage is a row of generated_images.
type GeneratedImage struct {
	ID     int64
	RunID  string
	Index  int
	Seed   int64
	Path   string
	Width  int
	Height int
	SHA256 string
}

// Repository reads and writes generation history.
type Repository struct {
	db *Database
}

// NewRepository creates a Repository on an open Database.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const insertRunSQL = `
	INSERT INTO generation_runs (
		id, model_path, prompt, negative_prompt, sample_method, steps,
		cfg_scale, width, height, clip_skip, batch_count, seed,
		duration_ms, status, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertImageSQL = `
	INSERT INTO generated_images (run_id, image_index, seed, path, width, height, sha256)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

func insertRun(ctx context.Context, ex execer, run GenerationRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := ex.ExecContext(ctx, insertRunSQL,
		run.ID, run.ModelPath, run.Prompt, run.NegativePrompt, run.SampleMethod, run.Steps,
		run.CFGScale, run.Width, run.Height, run.ClipSkip, run.BatchCount, run.Seed,
		run.DurationMS, run.Status, run.ErrorMessage, createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation run: %w", err)
	}
	return nil
}

func insertImage(ctx context.Context, ex execer, img GeneratedImage) (int64, error) {
	res, err := ex.ExecContext(ctx, insertImageSQL,
		img.RunID, img.Index, img.Seed, img.Path, img.Width, img.Height, img.SHA256)
	if err != nil {
		return 0, fmt.Errorf("failed to insert generated image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// InsertRun inserts a run without images, e.g. a failed generation.
func (r *Repository) InsertRun(ctx context.Context, run GenerationRun) error {
	return r.db.withConn(func(conn *sql.DB) error {
		return insertRun(ctx, conn, run)
	})
}

// InsertImage inserts one image row and returns its ID.
func (r *Repository) InsertImage(ctx context.Context, img GeneratedImage) (int64, error) {
	var id int64
	err := r.db.withConn(func(conn *sql.DB) error {
		var err error
		id, err = insertImage(ctx, conn, img)
		return err
	})
	return id, err
}

// RecordRun inserts a run and its images in one transaction.
func (r *Repository) RecordRun(ctx context.Context, run GenerationRun, images []GeneratedImage) error {
	return r.db.withConn(func(conn *sql.DB) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		for _, img := range images {
			img.RunID = run.ID
			if _, err := insertImage(ctx, tx, img); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit run: %w", err)
		}
		return nil
	})
}

const selectRunColumns = `
	SELECT id, model_path, prompt, negative_prompt, sample_method, steps,
		cfg_scale, width, height, clip_skip, batch_count, seed,
		duration_ms, status, error_message, created_at
	FROM generation_runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (GenerationRun, error) {
	var run GenerationRun
	var createdAt int64
	err := s.Scan(
		&run.ID, &run.ModelPath, &run.Prompt, &run.NegativePrompt, &run.SampleMethod, &run.Steps,
		&run.CFGScale, &run.Width, &run.Height, &run.ClipSkip, &run.BatchCount, &run.Seed,
		&run.DurationMS, &run.Status, &run.ErrorMessage, &createdAt,
	)
	run.CreatedAt = time.UnixMilli(createdAt)
	return run, err
}

// QueryRecentRuns returns the newest runs first. limit <= 0 means 10.
func (r *Repository) QueryRecentRuns(ctx context.Context, limit int) ([]GenerationRun, error) {
	if limit <= 0 {
		limit = 10
	}

	var runs []GenerationRun
	err := r.db.withConn(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, selectRunColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("failed to query generation runs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			run, err := scanRun(rows)
			if err != nil {
				return fmt.Errorf("failed to scan generation run: %w", err)
			}
			runs = append(runs, run)
		}
		return rows.Err()
	})
	return runs, err
}

// GetRun looks a run up by full ID or by a unique ID prefix.
func (r *Repository) GetRun(ctx context.Context, idOrPrefix string) (*GenerationRun, error) {
	if idOrPrefix == "" {
		return nil, ErrRunNotFound
	}

	var found []GenerationRun
	err := r.db.withConn(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx,
			selectRunColumns+` WHERE id = ? OR substr(id, 1, ?) = ? LIMIT 2`,
			idOrPrefix, len(idOrPrefix), idOrPrefix)
		if err != nil {
			return fmt.Errorf("failed to query generation run: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			run, err := scanRun(rows)
			if err != nil {
				return fmt.Errorf("failed to scan generation run: %w", err)
			}
			found = append(found, run)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRunID, idOrPrefix)
	}
}

// ImagesForRun returns the images of a run in batch order.
func (r *Repository) ImagesForRun(ctx context.Context, runID string) ([]GeneratedImage, error) {
	var images []GeneratedImage
	err := r.db.withConn(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, run_id, image_index, seed, path, width, height, sha256
			FROM generated_images
			WHERE run_id = ?
			ORDER BY image_index`, runID)
		if err != nil {
			return fmt.Errorf("failed to query generated images: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var img GeneratedImage
			if err := rows.Scan(&img.ID, &img.RunID, &img.Index, &img.Seed, &img.Path,
				&img.Width, &img.Height, &img.SHA256); err != nil {
				return fmt.Errorf("failed to scan generated image: %w", err)
			}
			images = append(images, img)
		}
		return rows.Err()
	})
	return images, err
}

// CountRuns returns the number of recorded runs.
func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.withConn(func(conn *sql.DB) error {
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_runs`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count generation runs: %w", err)
		}
		return nil
	})
	return count, err
}
