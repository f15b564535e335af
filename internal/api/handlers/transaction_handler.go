package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"

	"statement-relay/internal/dto"
	"statement-relay/internal/parser"
	"statement-relay/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TransactionHandler struct {
	uploadService *service.UploadService
	txService     *service.TransactionService
	logger        *zap.Logger
}

func NewTransactionHandler(uploadService *service.UploadService, txService *service.TransactionService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{
		uploadService: uploadService,
		txService:     txService,
		logger:        logger,
	}
}

// UploadStatement godoc
// @Summary Upload a bank statement
// @Description Stream a CSV, PDF or scanned statement. The first file part is parsed; its transactions are stored for the caller.
// @Tags transactions
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Statement file (csv, pdf, jpeg, png)"
// @Param rowPolicy formData string false "CSV row error policy: lenient (default) or strict"
// @Security Bearer
// @Success 200 {object} dto.UploadResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 413 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /transactions/upload [post]
func (h *TransactionHandler) UploadStatement(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	// With StreamRequestBody the body is read from the connection as the
	// multipart reader asks for it.
	var body io.Reader = c.Context().RequestBodyStream()
	if body == nil {
		body = bytes.NewReader(c.Body())
	}

	result, err := h.uploadService.Upload(c.Context(), service.UploadRequest{
		UserID:      userID,
		ContentType: string(c.Request().Header.ContentType()),
		Body:        body,
	})
	if err != nil {
		status, message := uploadFailure(err)
		if status >= fiber.StatusInternalServerError {
			h.logger.Error("Failed to upload statement", zap.String("user_id", userID.String()), zap.Error(err))
		} else {
			h.logger.Info("Statement upload rejected", zap.String("user_id", userID.String()), zap.Error(err))
		}
		return errorJSON(c, status, message)
	}

	return c.JSON(dto.UploadResponse{
		Success:  true,
		Data:     dto.NewTransactionResponses(result.Transactions),
		MimeType: result.MimeType,
		Count:    len(result.Transactions),
	})
}

// ListTransactions godoc
// @Summary List the caller's transactions
// @Description Newest first, paginated
// @Tags transactions
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size" default(20)
// @Security Bearer
// @Success 200 {object} dto.ListTransactionsResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /transactions [get]
func (h *TransactionHandler) ListTransactions(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	page, err := h.txService.List(c.Context(), userID, c.QueryInt("page", 1), c.QueryInt("limit", service.DefaultPageSize))
	if err != nil {
		h.logger.Error("Failed to list transactions", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to list transactions")
	}

	return c.JSON(dto.ListTransactionsResponse{
		Success: true,
		Data:    dto.NewTransactionResponses(page.Transactions),
		Metadata: dto.ListMetadata{
			Total:      page.Total,
			Page:       page.Page,
			Limit:      page.Limit,
			TotalPages: page.TotalPages(),
		},
	})
}

// DeleteTransactions godoc
// @Summary Delete transactions
// @Description Deletes the listed transactions that belong to the caller. Unknown ids are ignored.
// @Tags transactions
// @Accept json
// @Produce json
// @Param ids body []string true "Transaction ids"
// @Security Bearer
// @Success 200 {object} dto.DeleteTransactionsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /transactions [delete]
func (h *TransactionHandler) DeleteTransactions(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	var raw []string
	if err := c.BodyParser(&raw); err != nil || len(raw) == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "Request body must be a non-empty array of transaction ids")
	}

	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid transaction ID: "+s)
		}
		ids = append(ids, id)
	}

	deleted, err := h.txService.Delete(c.Context(), userID, ids)
	if err != nil {
		h.logger.Error("Failed to delete transactions", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to delete transactions")
	}

	return c.JSON(dto.DeleteTransactionsResponse{
		Success: true,
		Deleted: deleted,
	})
}

// uploadFailure maps an upload error to a status code and a message that is
// safe to show the client.
func uploadFailure(err error) (int, string) {
	var (
		abortErr *service.StreamAbortError
		parseErr *parser.ParseError
	)

	switch {
	case errors.As(err, &abortErr):
		return fiber.StatusBadRequest, "Upload was interrupted before the file was received"
	case errors.Is(err, service.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge, "File is too large"
	case errors.Is(err, service.ErrNoFilePart):
		return fiber.StatusBadRequest, "File is required"
	case errors.Is(err, service.ErrInvalidUpload),
		errors.Is(err, parser.ErrUnsupportedFileType),
		errors.Is(err, parser.ErrEmptyResult),
		errors.As(err, &parseErr):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, parser.ErrExtractionFailed):
		return fiber.StatusBadRequest, "Could not read text from the document"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusRequestTimeout, "Upload was cancelled"
	default:
		return fiber.StatusInternalServerError, "Failed to save transactions"
	}
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(dto.ErrorResponse{
		Success: false,
		Error:   message,
	})
}

func getUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userIDStr, ok := c.Locals("userID").(string)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, err
	}

	return userID, nil
}
