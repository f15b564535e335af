package repository

import (
	"context"
	"fmt"

	"statement-relay/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres caps a statement at 65535 bind parameters.
const insertChunkSize = 1000

var transactionColumns = []string{
	"id", "user_id", "date", "amount", "balance", "description", "type", "created_at", "updated_at",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type TransactionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTransactionRepository(db *pgxpool.Pool, logger *zap.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch stores all records in a single transaction: either every row
// is written, in slice order, or none is.
func (r *TransactionRepository) CreateBatch(ctx context.Context, transactions []*models.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for start := 0; start < len(transactions); start += insertChunkSize {
		end := min(start+insertChunkSize, len(transactions))

		sql, args, err := buildInsert(transactions[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("failed to insert transactions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}

	r.logger.Debug("Stored transactions", zap.Int("count", len(transactions)))
	return nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, error) {
	sql, args, err := buildList(userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, sql, args)
}

// ListAllByUserID returns every stored transaction for the user, oldest first,
// which is the order the analysis service expects.
func (r *TransactionRepository) ListAllByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	sql, args, err := psql.Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("date ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	return r.query(ctx, sql, args)
}

func (r *TransactionRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	sql, args, err := psql.Select("COUNT(*)").
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByIDs removes the given transactions owned by userID and reports how
// many rows went away. IDs belonging to other users are silently ignored.
func (r *TransactionRepository) DeleteByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	sql, args, err := buildDelete(userID, ids)
	if err != nil {
		return 0, err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *TransactionRepository) query(ctx context.Context, sql string, args []interface{}) ([]*models.Transaction, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Date, &tx.Amount, &tx.Balance, &tx.Description, &tx.Type, &tx.CreatedAt, &tx.UpdatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, &tx)
	}
	return transactions, rows.Err()
}

func buildInsert(transactions []*models.Transaction) (string, []interface{}, error) {
	builder := psql.Insert("transactions").Columns(transactionColumns...)
	for _, tx := range transactions {
		builder = builder.Values(tx.ID, tx.UserID, tx.Date, tx.Amount, tx.Balance, tx.Description, tx.Type, tx.CreatedAt, tx.UpdatedAt)
	}
	return builder.ToSql()
}

func buildList(userID uuid.UUID, limit, offset int) (string, []interface{}, error) {
	return psql.Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("date DESC", "seq DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
}

func buildDelete(userID uuid.UUID, ids []uuid.UUID) (string, []interface{}, error) {
	return psql.Delete("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Eq{"id": ids}).
		ToSql()
}
