package repository

import (
	"testing"
	"time"

	"statement-relay/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestBuildInsert(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	txs := []*models.Transaction{
		{ID: uuid.New(), UserID: uuid.New(), Date: now, Amount: decimal.NewFromInt(-1), Description: "A", Type: models.TransactionTypeExpense, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New(), UserID: uuid.New(), Date: now, Amount: decimal.NewFromInt(2), Description: "B", Type: models.TransactionTypeIncome, CreatedAt: now, UpdatedAt: now},
	}

	sql, args, err := buildInsert(txs)
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}

	want := "INSERT INTO transactions (id,user_id,date,amount,balance,description,type,created_at,updated_at) " +
		"VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9),($10,$11,$12,$13,$14,$15,$16,$17,$18)"
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 18 {
		t.Fatalf("got %d args, want 18", len(args))
	}
	if args[5] != "A" || args[14] != "B" {
		t.Errorf("descriptions out of order: %v, %v", args[5], args[14])
	}
}

func TestBuildList(t *testing.T) {
	user := uuid.New()

	sql, args, err := buildList(user, 20, 40)
	if err != nil {
		t.Fatalf("buildList: %v", err)
	}

	want := "SELECT id, user_id, date, amount, balance, description, type, created_at, updated_at " +
		"FROM transactions WHERE user_id = $1 ORDER BY date DESC, seq DESC LIMIT 20 OFFSET 40"
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 1 || args[0] != user.String() {
		t.Errorf("args = %v", args)
	}
}

func TestBuildDelete(t *testing.T) {
	user := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	sql, args, err := buildDelete(user, ids)
	if err != nil {
		t.Fatalf("buildDelete: %v", err)
	}

	want := "DELETE FROM transactions WHERE user_id = $1 AND id IN ($2,$3)"
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 3 || args[0] != user.String() || args[1] != ids[0] || args[2] != ids[1] {
		t.Errorf("args = %v", args)
	}
}
