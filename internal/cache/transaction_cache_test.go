package cache

import (
	"testing"
	"time"

	"statement-relay/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestCache(t *testing.T) *TransactionCache {
	t.Helper()
	c, err := NewTransactionCache(100, time.Minute)
	if err != nil {
		t.Fatalf("NewTransactionCache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func sampleTransactions() []*models.Transaction {
	return []*models.Transaction{
		{ID: uuid.New(), Amount: decimal.NewFromInt(-5), Description: "COFFEE", Type: models.TransactionTypeExpense},
	}
}

func TestTransactionCache_SetGet(t *testing.T) {
	c := newTestCache(t)
	user := uuid.New()

	if _, ok := c.Get(user); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.Set(user, c.Generation(user), sampleTransactions())
	c.Wait()

	got, ok := c.Get(user)
	if !ok || len(got) != 1 || got[0].Description != "COFFEE" {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	got[0].Description = "mutated"
	again, _ := c.Get(user)
	if again[0].Description != "COFFEE" {
		t.Error("cached snapshot shares memory with callers")
	}
}

func TestTransactionCache_Invalidate(t *testing.T) {
	c := newTestCache(t)
	user := uuid.New()

	c.Set(user, c.Generation(user), sampleTransactions())
	c.Wait()
	c.Invalidate(user)
	c.Wait()

	if _, ok := c.Get(user); ok {
		t.Fatal("snapshot survived invalidation")
	}
}

func TestTransactionCache_StaleGenerationIgnored(t *testing.T) {
	c := newTestCache(t)
	user := uuid.New()

	gen := c.Generation(user)
	c.Invalidate(user)

	if c.Set(user, gen, sampleTransactions()) {
		t.Fatal("Set accepted a snapshot loaded before invalidation")
	}
	c.Wait()
	if _, ok := c.Get(user); ok {
		t.Fatal("stale snapshot cached")
	}
}

func TestTransactionCache_GenerationTableIsBounded(t *testing.T) {
	c := newTestCache(t)

	for i := 0; i < 3*generationSlots; i++ {
		c.Invalidate(uuid.New())
	}

	var total uint64
	for _, g := range c.generations {
		total += g
	}
	if total != 3*generationSlots {
		t.Fatalf("recorded %d invalidations, want %d", total, 3*generationSlots)
	}

	// A user whose slot was bumped by someone else still caches after
	// reading the current generation.
	user := uuid.New()
	if !c.Set(user, c.Generation(user), sampleTransactions()) {
		t.Fatal("fresh generation rejected")
	}
}
