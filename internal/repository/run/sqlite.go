package run

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/meet-minimalist/nsedata/internal/run"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, rec *domain.Run) error {
	const query = `INSERT INTO runs (mode, started_at, finished_at, total, updated, failed, up_to_date, report_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		rec.Mode,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.FinishedAt.UTC().Format(time.RFC3339),
		rec.Total, rec.Updated, rec.Failed, rec.UpToDate,
		rec.ReportPath,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	rec.ID, _ = res.LastInsertId()
	rec.CreatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `SELECT id, mode, started_at, finished_at, total, updated, failed, up_to_date, report_path, created_at
		FROM runs ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.Run
	for rows.Next() {
		var rec domain.Run
		var startedStr, finishedStr, createdStr string
		if err := rows.Scan(
			&rec.ID, &rec.Mode, &startedStr, &finishedStr,
			&rec.Total, &rec.Updated, &rec.Failed, &rec.UpToDate,
			&rec.ReportPath, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		rec.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedStr)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		runs = append(runs, rec)
	}

	return runs, rows.Err()
}
