package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

func TestTradeStore_InsertAndGet(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	if err := store.Insert(ctx, closedTrade("trade1", "run1", 0, 5)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "trade1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.RealizedPnL() != 5 {
		t.Errorf("PnL mismatch: got %f, want %f", got.RealizedPnL(), 5.0)
	}
}

func TestTradeStore_DuplicateKey(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := closedTrade("trade1", "run1", 0, 1)
	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, trade)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTradeStore_RejectsOpenTrade(t *testing.T) {
	store := NewTradeStore()
	open := &domain.Trade{TradeID: "t1", RunID: "run1", Status: domain.TradeStatusOpen}

	err := store.Insert(context.Background(), open)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestTradeStore_NotFound(t *testing.T) {
	store := NewTradeStore()

	_, err := store.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTradeStore_InsertBulk(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trades := []*domain.Trade{
		closedTrade("t3", "run1", 2*time.Hour, 1),
		closedTrade("t1", "run1", 0, -1),
		closedTrade("t2", "run1", 0, 2),
		closedTrade("t4", "run2", 0, 3),
	}
	if err := store.InsertBulk(ctx, trades); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByRun(ctx, "run1")
	if err != nil {
		t.Fatalf("GetByRun failed: %v", err)
	}
	want := []string{"t1", "t2", "t3"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d trades, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].TradeID != id {
			t.Errorf("trade[%d]: got %s, want %s", i, got[i].TradeID, id)
		}
	}
}

func TestTradeStore_InsertBulkAtomic(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	if err := store.Insert(ctx, closedTrade("t2", "run1", 0, 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Trade{
		closedTrade("t1", "run1", 0, 1),
		closedTrade("t2", "run1", 0, 1),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.GetByID(ctx, "t1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("t1 must not be inserted when the batch fails, got %v", err)
	}

	err = store.InsertBulk(ctx, []*domain.Trade{
		closedTrade("t5", "run1", 0, 1),
		closedTrade("t5", "run1", 0, 1),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}
}

func TestTradeStore_ReturnsCopies(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := closedTrade("t1", "run1", 0, 1)
	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	trade.Symbol = "MUTATED"

	got, _ := store.GetByID(ctx, "t1")
	if got.Symbol != "BTCUSDT" {
		t.Errorf("stored trade was mutated through caller pointer: %s", got.Symbol)
	}
}
