package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary scalars are stored as NUMERIC for exact decimal precision;
// the equity curve, trade log, and statistics are JSONB documents since
// they are written once and always read whole.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	equity, err := json.Marshal(run.Equity)
	if err != nil {
		return fmt.Errorf("marshal equity: %w", err)
	}
	trades, err := json.Marshal(run.Trades)
	if err != nil {
		return fmt.Errorf("marshal trades: %w", err)
	}
	positions, err := json.Marshal(run.FinalPositions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, symbol, strategy, status, abort_reason,
		                   initial_capital, final_equity, created_at,
		                   stats, equity, trades, final_positions)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12)`,
		run.ID, run.Symbol, run.Strategy, run.Status, run.AbortReason,
		run.InitialCapital.String(), run.FinalEquity.String(), run.CreatedAt,
		stats, equity, trades, positions,
	)
	return err
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	var initialCapital, finalEquity string
	var stats, equity, trades, positions []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, symbol, strategy, status, abort_reason,
		        initial_capital::TEXT, final_equity::TEXT, created_at,
		        stats, equity, trades, final_positions
		 FROM runs WHERE id = $1`, id).
		Scan(&run.ID, &run.Symbol, &run.Strategy, &run.Status, &run.AbortReason,
			&initialCapital, &finalEquity, &run.CreatedAt,
			&stats, &equity, &trades, &positions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	run.InitialCapital, _ = decimal.NewFromString(initialCapital)
	run.FinalEquity, _ = decimal.NewFromString(finalEquity)
	if err := json.Unmarshal(stats, &run.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	if err := json.Unmarshal(equity, &run.Equity); err != nil {
		return nil, fmt.Errorf("unmarshal equity: %w", err)
	}
	if err := json.Unmarshal(trades, &run.Trades); err != nil {
		return nil, fmt.Errorf("unmarshal trades: %w", err)
	}
	if err := json.Unmarshal(positions, &run.FinalPositions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}

	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, strategy, status, abort_reason,
		        initial_capital::TEXT, final_equity::TEXT, created_at, stats
		 FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		var initialCapital, finalEquity string
		var stats []byte
		if err := rows.Scan(&run.ID, &run.Symbol, &run.Strategy, &run.Status, &run.AbortReason,
			&initialCapital, &finalEquity, &run.CreatedAt, &stats); err != nil {
			return nil, err
		}
		run.InitialCapital, _ = decimal.NewFromString(initialCapital)
		run.FinalEquity, _ = decimal.NewFromString(finalEquity)
		if err := json.Unmarshal(stats, &run.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal stats: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
