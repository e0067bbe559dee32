// Package store defines the persistence interface for backtest runs.
// Implementations include PostgreSQL (source of truth), SQLite (single
// node), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("store: run not found")

// Store is the persistence interface. Runs are immutable once created:
// there is no update operation.
type Store interface {
	// CreateRun persists a completed backtest run.
	CreateRun(ctx context.Context, run *model.Run) error

	// GetRun retrieves a run by ID, including its equity curve, trade
	// log, and final positions.
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// ListRuns returns run summaries, newest first. Summaries omit the
	// equity curve, trades, and final positions.
	ListRuns(ctx context.Context) ([]model.Run, error)

	// DeleteRun removes a run. Deleting an unknown ID returns ErrNotFound.
	DeleteRun(ctx context.Context, id string) error
}
