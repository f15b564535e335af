package service

import (
	"context"
	"fmt"
	"time"

	"statement-relay/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TransactionStore is the persistence the service needs;
// *repository.TransactionRepository implements it.
type TransactionStore interface {
	CreateBatch(ctx context.Context, transactions []*models.Transaction) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, error)
	ListAllByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error)
	CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
}

// SnapshotCache is satisfied by *cache.TransactionCache.
type SnapshotCache interface {
	Get(userID uuid.UUID) ([]*models.Transaction, bool)
	Generation(userID uuid.UUID) uint64
	Set(userID uuid.UUID, generation uint64, transactions []*models.Transaction) bool
	Invalidate(userID uuid.UUID)
}

type TransactionPage struct {
	Transactions []*models.Transaction
	Total        int64
	Page         int
	Limit        int
}

func (p TransactionPage) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Limit) - 1) / int64(p.Limit))
}

type TransactionService struct {
	store  TransactionStore
	cache  SnapshotCache
	now    func() time.Time
	logger *zap.Logger
}

// NewTransactionService wires the store and an optional cache (nil disables
// caching).
func NewTransactionService(store TransactionStore, cache SnapshotCache, logger *zap.Logger) *TransactionService {
	return &TransactionService{
		store:  store,
		cache:  cache,
		now:    time.Now,
		logger: logger,
	}
}

// SaveParsed assigns identity, ownership and timestamps to freshly parsed
// records and stores them atomically in the given order.
func (s *TransactionService) SaveParsed(ctx context.Context, userID uuid.UUID, transactions []*models.Transaction) error {
	now := s.now().UTC()
	for _, tx := range transactions {
		tx.ID = uuid.New()
		tx.UserID = userID
		tx.Type = models.TypeFromAmount(tx.Amount)
		tx.CreatedAt = now
		tx.UpdatedAt = now
	}

	if err := s.store.CreateBatch(ctx, transactions); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	s.invalidate(userID)

	s.logger.Info("Transactions saved",
		zap.String("user_id", userID.String()),
		zap.Int("count", len(transactions)),
	)
	return nil
}

func (s *TransactionService) List(ctx context.Context, userID uuid.UUID, page, limit int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	transactions, err := s.store.ListByUserID(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	total, err := s.store.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	return &TransactionPage{
		Transactions: transactions,
		Total:        total,
		Page:         page,
		Limit:        limit,
	}, nil
}

// Snapshot returns every transaction of the user, oldest first. It is what
// the analysis relay forwards upstream and is served from cache when warm.
func (s *TransactionService) Snapshot(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(userID); ok {
			return cached, nil
		}
	}

	var generation uint64
	if s.cache != nil {
		generation = s.cache.Generation(userID)
	}

	transactions, err := s.store.ListAllByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(userID, generation, transactions)
	}
	return transactions, nil
}

func (s *TransactionService) Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	deleted, err := s.store.DeleteByIDs(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	if deleted > 0 {
		s.invalidate(userID)
	}
	return deleted, nil
}

func (s *TransactionService) invalidate(userID uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
}
