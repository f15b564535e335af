package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"statement-relay/internal/cache"
	"statement-relay/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memoryStore is an in-memory TransactionStore.
type memoryStore struct {
	mu        sync.Mutex
	rows      []*models.Transaction
	failWrite error
	listAll   int
}

func (m *memoryStore) CreateBatch(_ context.Context, txs []*models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	for _, tx := range txs {
		copied := *tx
		m.rows = append(m.rows, &copied)
	}
	return nil
}

func (m *memoryStore) ListByUserID(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	m.mu.Lock()
	all := m.rowsFor(userID)
	m.mu.Unlock()
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (m *memoryStore) ListAllByUserID(_ context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listAll++
	return m.rowsFor(userID), nil
}

func (m *memoryStore) rowsFor(userID uuid.UUID) []*models.Transaction {
	var out []*models.Transaction
	for _, tx := range m.rows {
		if tx.UserID == userID {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out
}

func (m *memoryStore) CountByUserID(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rowsFor(userID))), nil
}

func (m *memoryStore) DeleteByIDs(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []*models.Transaction
	var deleted int64
	for _, tx := range m.rows {
		if tx.UserID == userID && drop[tx.ID] {
			deleted++
			continue
		}
		kept = append(kept, tx)
	}
	m.rows = kept
	return deleted, nil
}

func parsedRecords(amounts ...int64) []*models.Transaction {
	out := make([]*models.Transaction, len(amounts))
	for i, a := range amounts {
		amount := decimal.NewFromInt(a)
		out[i] = &models.Transaction{
			Date:        time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
			Amount:      amount,
			Description: "ROW",
			Type:        models.TypeFromAmount(amount),
		}
	}
	return out
}

func newTestTransactionService(t *testing.T) (*TransactionService, *memoryStore, *cache.TransactionCache) {
	t.Helper()
	store := &memoryStore{}
	c, err := cache.NewTransactionCache(100, time.Minute)
	if err != nil {
		t.Fatalf("NewTransactionCache: %v", err)
	}
	t.Cleanup(c.Close)
	return NewTransactionService(store, c, zap.NewNop()), store, c
}

func TestTransactionService_SaveParsedAssignsOwnership(t *testing.T) {
	svc, store, _ := newTestTransactionService(t)
	user := uuid.New()

	records := parsedRecords(-5, 10)
	if err := svc.SaveParsed(context.Background(), user, records); err != nil {
		t.Fatalf("SaveParsed: %v", err)
	}

	if len(store.rows) != 2 {
		t.Fatalf("stored %d rows", len(store.rows))
	}
	for i, tx := range store.rows {
		if tx.UserID != user || tx.ID == uuid.Nil || tx.CreatedAt.IsZero() {
			t.Errorf("row %d not initialised: %+v", i, tx)
		}
	}
	if !store.rows[0].Amount.Equal(decimal.NewFromInt(-5)) {
		t.Error("parse order not preserved")
	}
}

func TestTransactionService_SaveParsedPropagatesStoreError(t *testing.T) {
	svc, store, _ := newTestTransactionService(t)
	store.failWrite = errors.New("disk full")

	err := svc.SaveParsed(context.Background(), uuid.New(), parsedRecords(1))
	if !errors.Is(err, store.failWrite) {
		t.Fatalf("error = %v", err)
	}
}

func TestTransactionService_SnapshotUsesCacheUntilWrite(t *testing.T) {
	svc, store, c := newTestTransactionService(t)
	user := uuid.New()
	ctx := context.Background()

	if err := svc.SaveParsed(ctx, user, parsedRecords(1, 2)); err != nil {
		t.Fatalf("SaveParsed: %v", err)
	}

	first, err := svc.Snapshot(ctx, user)
	if err != nil || len(first) != 2 {
		t.Fatalf("Snapshot = %d, %v", len(first), err)
	}
	c.Wait()

	if _, err := svc.Snapshot(ctx, user); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if store.listAll != 1 {
		t.Errorf("store hit %d times, want 1", store.listAll)
	}

	if err := svc.SaveParsed(ctx, user, parsedRecords(3)); err != nil {
		t.Fatalf("SaveParsed: %v", err)
	}
	c.Wait()

	after, err := svc.Snapshot(ctx, user)
	if err != nil || len(after) != 3 {
		t.Fatalf("Snapshot after write = %d, %v", len(after), err)
	}
}

func TestTransactionService_DeleteInvalidates(t *testing.T) {
	svc, store, c := newTestTransactionService(t)
	user := uuid.New()
	ctx := context.Background()

	_ = svc.SaveParsed(ctx, user, parsedRecords(1, 2))
	snap, _ := svc.Snapshot(ctx, user)
	c.Wait()

	deleted, err := svc.Delete(ctx, user, []uuid.UUID{snap[0].ID, uuid.New()})
	if err != nil || deleted != 1 {
		t.Fatalf("Delete = %d, %v", deleted, err)
	}
	c.Wait()

	after, _ := svc.Snapshot(ctx, user)
	if len(after) != 1 || len(store.rows) != 1 {
		t.Errorf("snapshot has %d rows, store %d", len(after), len(store.rows))
	}
}

func TestTransactionService_ListPagination(t *testing.T) {
	svc, _, _ := newTestTransactionService(t)
	user := uuid.New()
	ctx := context.Background()
	_ = svc.SaveParsed(ctx, user, parsedRecords(1, 2, 3, 4, 5))

	page, err := svc.List(ctx, user, 2, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Transactions) != 2 || page.Total != 5 || page.TotalPages() != 3 {
		t.Errorf("page = %d rows, total %d, pages %d", len(page.Transactions), page.Total, page.TotalPages())
	}

	page, _ = svc.List(ctx, user, 0, 1000)
	if page.Page != 1 || page.Limit != MaxPageSize {
		t.Errorf("clamped page=%d limit=%d", page.Page, page.Limit)
	}
}
