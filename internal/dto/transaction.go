package dto

import (
	"time"

	"statement-relay/internal/models"
)

type TransactionResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"userId"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Balance     float64 `json:"balance"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type UploadResponse struct {
	Success  bool                  `json:"success"`
	Data     []TransactionResponse `json:"data"`
	MimeType string                `json:"mimeType"`
	Count    int                   `json:"count"`
}

type ListMetadata struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

type ListTransactionsResponse struct {
	Success  bool                  `json:"success"`
	Data     []TransactionResponse `json:"data"`
	Metadata ListMetadata          `json:"metadata"`
}

type DeleteTransactionsResponse struct {
	Success bool  `json:"success"`
	Deleted int64 `json:"deleted"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func NewTransactionResponse(tx *models.Transaction) TransactionResponse {
	amount, _ := tx.Amount.Float64()
	balance, _ := tx.Balance.Float64()
	return TransactionResponse{
		ID:          tx.ID.String(),
		UserID:      tx.UserID.String(),
		Date:        tx.Date.Format("2006-01-02"),
		Amount:      amount,
		Balance:     balance,
		Description: tx.Description,
		Type:        string(tx.Type),
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   tx.UpdatedAt.Format(time.RFC3339),
	}
}

func NewTransactionResponses(txs []*models.Transaction) []TransactionResponse {
	out := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = NewTransactionResponse(tx)
	}
	return out
}
