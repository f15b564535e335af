package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"statement-relay/internal/models"
	"statement-relay/internal/parser"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidUpload = errors.New("invalid multipart upload")
	ErrNoFilePart    = errors.New("no file provided")
	ErrFileTooLarge  = errors.New("file exceeds the upload size limit")
)

// StreamAbortError means the client stream broke before the multipart body
// was complete. Nothing is persisted when it is returned.
type StreamAbortError struct {
	Err error
}

func (e *StreamAbortError) Error() string {
	return fmt.Sprintf("upload stream aborted: %v", e.Err)
}

func (e *StreamAbortError) Unwrap() error {
	return e.Err
}

const (
	rowPolicyField = "rowPolicy"
	maxFieldBytes  = 1 << 10
)

// ParserProvider is satisfied by *parser.Factory.
type ParserProvider interface {
	IsSupported(mimeType string) bool
	ParserWithOptions(mimeType string, opts parser.Options) (parser.Parser, error)
}

// TransactionSaver is satisfied by *TransactionService.
type TransactionSaver interface {
	SaveParsed(ctx context.Context, userID uuid.UUID, transactions []*models.Transaction) error
}

type UploadRequest struct {
	UserID uuid.UUID
	// ContentType is the request's Content-Type header including the boundary.
	ContentType string
	Body        io.Reader
}

type UploadResult struct {
	Transactions []*models.Transaction
	MimeType     string
	FileName     string
}

type UploadService struct {
	parsers      ParserProvider
	saver        TransactionSaver
	maxFileBytes int64
	logger       *zap.Logger
}

func NewUploadService(parsers ParserProvider, saver TransactionSaver, maxFileBytes int64, logger *zap.Logger) *UploadService {
	return &UploadService{
		parsers:      parsers,
		saver:        saver,
		maxFileBytes: maxFileBytes,
		logger:       logger,
	}
}

type uploadedFile struct {
	name     string
	mimeType string
	data     []byte
}

// Upload reads a multipart body part by part. The first file part is the
// statement; later file parts are drained and ignored. Unsupported types
// are rejected from the part headers before any content is buffered. The
// statement is parsed only after the body has been fully consumed, and the
// parsed records are stored in a single batch.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	mediaType, params, err := mime.ParseMediaType(req.ContentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return nil, fmt.Errorf("%w: expected multipart/form-data with a boundary", ErrInvalidUpload)
	}

	reader := multipart.NewReader(req.Body, params["boundary"])
	var (
		file *uploadedFile
		opts parser.Options
	)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &StreamAbortError{Err: err}
		}

		if part.FileName() == "" {
			if err := s.readField(part, &opts); err != nil {
				return nil, err
			}
			continue
		}

		if file != nil {
			s.logger.Debug("Ignoring additional file part", zap.String("file", part.FileName()))
			if _, err := io.Copy(io.Discard, part); err != nil {
				return nil, &StreamAbortError{Err: err}
			}
			continue
		}

		file, err = s.readFile(part)
		if err != nil {
			return nil, err
		}
	}

	if file == nil {
		return nil, ErrNoFilePart
	}

	opts.FileName = file.name
	p, err := s.parsers.ParserWithOptions(file.mimeType, opts)
	if err != nil {
		return nil, err
	}

	transactions, err := p.Parse(ctx, file.data)
	if err != nil {
		s.logger.Warn("Statement parsing failed",
			zap.String("user_id", req.UserID.String()),
			zap.String("file", file.name),
			zap.String("mime_type", file.mimeType),
			zap.Error(err),
		)
		return nil, err
	}

	// The client may have gone away while we were parsing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.saver.SaveParsed(ctx, req.UserID, transactions); err != nil {
		return nil, err
	}

	s.logger.Info("Statement uploaded",
		zap.String("user_id", req.UserID.String()),
		zap.String("file", file.name),
		zap.String("mime_type", file.mimeType),
		zap.Int("transactions", len(transactions)),
	)

	return &UploadResult{
		Transactions: transactions,
		MimeType:     file.mimeType,
		FileName:     file.name,
	}, nil
}

func (s *UploadService) readFile(part *multipart.Part) (*uploadedFile, error) {
	mimeType := resolvePartMimeType(part)
	if !s.parsers.IsSupported(mimeType) {
		// ParserWithOptions produces the descriptive error.
		_, err := s.parsers.ParserWithOptions(mimeType, parser.Options{})
		if err == nil {
			err = fmt.Errorf("%w: %q", parser.ErrUnsupportedFileType, mimeType)
		}
		return nil, err
	}

	limit := s.maxFileBytes
	src := io.Reader(part)
	if limit > 0 {
		src = io.LimitReader(part, limit+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, &StreamAbortError{Err: err}
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, limit)
	}

	return &uploadedFile{
		name:     part.FileName(),
		mimeType: mimeType,
		data:     data,
	}, nil
}

func (s *UploadService) readField(part *multipart.Part, opts *parser.Options) error {
	value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
	if err != nil {
		return &StreamAbortError{Err: err}
	}
	// Drop whatever exceeded the limit so the next part can be read.
	if _, err := io.Copy(io.Discard, part); err != nil {
		return &StreamAbortError{Err: err}
	}

	if part.FormName() == rowPolicyField {
		policy, err := parser.ParseRowErrorPolicy(string(value))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		opts.RowPolicy = policy
	}
	return nil
}

// resolvePartMimeType trusts the part's Content-Type unless it is missing or
// generic, in which case the file extension decides.
func resolvePartMimeType(part *multipart.Part) string {
	declared := parser.NormalizeMimeType(part.Header.Get("Content-Type"))
	byExt, known := parser.MimeTypeFromFileName(part.FileName())

	switch declared {
	case "", "application/octet-stream", "binary/octet-stream":
		if known {
			return byExt
		}
	case "application/vnd.ms-excel", "application/csv", "text/comma-separated-values":
		// Browsers on Windows label .csv files as Excel documents.
		if byExt == parser.MimeTypeCSV {
			return byExt
		}
	}
	return declared
}
