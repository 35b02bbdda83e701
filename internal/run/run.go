// Package run defines the batch-run history record and its storage interface.
package run

import (
	"context"
	"time"
)

// Run is one finished batch over many symbols.
type Run struct {
	ID         int64
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Updated    int
	Failed     int
	UpToDate   int
	ReportPath string
	CreatedAt  time.Time
}

type Repository interface {
	Create(ctx context.Context, r *Run) error
	List(ctx context.Context, limit int) ([]Run, error)
}
