package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

// schemaDDL is applied on open. Monetary scalars are stored as TEXT to
// preserve exact decimal values; documents are JSON text.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	status          TEXT NOT NULL,
	abort_reason    TEXT NOT NULL DEFAULT '',
	initial_capital TEXT NOT NULL,
	final_equity    TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	stats           TEXT NOT NULL,
	equity          TEXT NOT NULL,
	trades          TEXT NOT NULL,
	final_positions TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// SQLiteStore implements Store on an embedded SQLite database. Suitable
// for single-node deployments and local research work.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path and
// applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, symbol, strategy, status, abort_reason,
		                   initial_capital, final_equity, created_at,
		                   stats, equity, trades, final_positions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.Strategy, run.Status, run.AbortReason,
		run.InitialCapital.String(), run.FinalEquity.String(), run.CreatedAt,
		string(stats), string(equity), string(trades), string(positions),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	var initialCapital, finalEquity string
	var stats, equity, trades, positions string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, symbol, strategy, status, abort_reason,
		        initial_capital, final_equity, created_at,
		        stats, equity, trades, final_positions
		 FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Symbol, &run.Strategy, &run.Status, &run.AbortReason,
			&initialCapital, &finalEquity, &run.CreatedAt,
			&stats, &equity, &trades, &positions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	run.InitialCapital, _ = decimal.NewFromString(initialCapital)
	run.FinalEquity, _ = decimal.NewFromString(finalEquity)
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	if err := json.Unmarshal([]byte(equity), &run.Equity); err != nil {
		return nil, fmt.Errorf("unmarshal equity: %w", err)
	}
	if err := json.Unmarshal([]byte(trades), &run.Trades); err != nil {
		return nil, fmt.Errorf("unmarshal trades: %w", err)
	}
	if err := json.Unmarshal([]byte(positions), &run.FinalPositions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}

	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, strategy, status, abort_reason,
		        initial_capital, final_equity, created_at, stats
		 FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		var initialCapital, finalEquity, stats string
		if err := rows.Scan(&run.ID, &run.Symbol, &run.Strategy, &run.Status, &run.AbortReason,
			&initialCapital, &finalEquity, &run.CreatedAt, &stats); err != nil {
			return nil, err
		}
		run.InitialCapital, _ = decimal.NewFromString(initialCapital)
		run.FinalEquity, _ = decimal.NewFromString(finalEquity)
		if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal stats: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
