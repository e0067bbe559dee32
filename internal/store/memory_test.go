package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PapaPablano/swiftbolt/internal/model"
)

func sampleRun(id string, createdAt time.Time) *model.Run {
	return &model.Run{
		ID:             id,
		Symbol:         "SPY",
		Strategy:       "buy-and-hold",
		Status:         model.RunCompleted,
		InitialCapital: decimal.NewFromInt(10000),
		FinalEquity:    decimal.NewFromInt(10500),
		CreatedAt:      createdAt,
		Equity: []model.EquitySample{
			{Timestamp: createdAt, Equity: decimal.NewFromInt(10000)},
			{Timestamp: createdAt.Add(24 * time.Hour), Equity: decimal.NewFromInt(10500)},
		},
		Trades: []model.Trade{
			{Symbol: "SPY", Quantity: decimal.NewFromInt(1), RealizedPnL: decimal.NewFromInt(500)},
		},
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	run := sampleRun("run-1", created)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.CreateRun(ctx, run); err == nil {
		t.Error("duplicate ID must fail")
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Strategy != "buy-and-hold" || len(got.Equity) != 2 || len(got.Trades) != 1 {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.FinalEquity.Equal(decimal.NewFromInt(10500)) {
		t.Errorf("expected final equity 10500, got %s", got.FinalEquity)
	}

	// Mutating the returned copy must not affect the store.
	got.Status = model.RunAborted
	again, _ := s.GetRun(ctx, "run-1")
	if again.Status != model.RunCompleted {
		t.Error("store must return copies")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRun(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.CreateRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if runs[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, runs[i].ID)
		}
	}
	// Summaries omit the heavy payloads.
	if runs[0].Equity != nil || runs[0].Trades != nil {
		t.Error("summaries must omit equity and trades")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateRun(ctx, sampleRun("run-1", time.Now())); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
