// Package cache keeps short-lived per-user snapshots of stored transactions
// so repeated analysis requests do not hit Postgres every time.
package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"statement-relay/internal/models"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// generationSlots bounds the generation table. Users sharing a slot only
// cost each other an occasional rejected fill, never a stale read.
const generationSlots = 4096

type TransactionCache struct {
	store *ristretto.Cache
	ttl   time.Duration

	mu          sync.Mutex
	generations [generationSlots]uint64
}

// NewTransactionCache sizes the cache for maxEntries user snapshots. Each
// snapshot costs one unit regardless of how many transactions it holds.
func NewTransactionCache(maxEntries int64, ttl time.Duration) (*TransactionCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10, // number of keys to track frequency of
		MaxCost:            maxEntries,
		BufferItems:        64, // number of keys per Get buffer
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return &TransactionCache{
		store: store,
		ttl:   ttl,
	}, nil
}

// Get returns a copy of the cached snapshot for userID.
func (c *TransactionCache) Get(userID uuid.UUID) ([]*models.Transaction, bool) {
	value, ok := c.store.Get(userID.String())
	if !ok {
		return nil, false
	}
	snapshot, ok := value.([]*models.Transaction)
	if !ok {
		return nil, false
	}
	return cloneTransactions(snapshot), true
}

// Generation is read before loading a snapshot from the database and passed
// back to Set, so a load that raced with a write is not cached.
func (c *TransactionCache) Generation(userID uuid.UUID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[slot(userID)]
}

func (c *TransactionCache) Set(userID uuid.UUID, generation uint64, transactions []*models.Transaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[slot(userID)] != generation {
		return false
	}
	return c.store.SetWithTTL(userID.String(), cloneTransactions(transactions), 1, c.ttl)
}

// Invalidate drops the snapshot for userID. Call it after every write.
func (c *TransactionCache) Invalidate(userID uuid.UUID) {
	c.mu.Lock()
	c.generations[slot(userID)]++
	c.mu.Unlock()
	c.store.Del(userID.String())
}

// Wait blocks until buffered writes have been applied.
func (c *TransactionCache) Wait() {
	c.store.Wait()
}

func (c *TransactionCache) Close() {
	c.store.Close()
}

func slot(userID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(userID[:])
	return int(h.Sum32() % generationSlots)
}

func cloneTransactions(in []*models.Transaction) []*models.Transaction {
	out := make([]*models.Transaction, len(in))
	for i, tx := range in {
		copied := *tx
		out[i] = &copied
	}
	return out
}
