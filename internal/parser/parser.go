// Package parser turns uploaded bank statement exports into normalized
// transaction records.
//
// Each supported format has its own Parser implementation; they share the
// free functions in normalize.go and the line grammar in grammar.go. The
// Factory is the only place that decides which MIME types are supported.
package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"statement-relay/internal/models"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyResult         = errors.New("no valid transactions found")
	ErrExtractionFailed    = errors.New("text extraction failed")
	ErrMissingColumns      = errors.New("missing required columns")
)

// Parser converts the raw bytes of one file format into transaction records.
// Returned records carry date, amount, balance, description and type; identity
// and ownership are assigned by the caller.
type Parser interface {
	Parse(ctx context.Context, data []byte) ([]*models.Transaction, error)
}

// TextExtractor turns a binary document (PDF, scanned image) into a plain-text
// transcript, usually by calling an external OCR service.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, fileName string) (string, error)
}

// ParseError aborts a whole parse. It is returned for structural problems and,
// under RowPolicyStrict, for the first bad row.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RowErrorPolicy decides what happens to a row that cannot be normalized.
type RowErrorPolicy string

const (
	// RowPolicyLenient logs the row as a warning and keeps going.
	RowPolicyLenient RowErrorPolicy = "lenient"
	// RowPolicyStrict fails the whole parse with a *ParseError.
	RowPolicyStrict RowErrorPolicy = "strict"
)

func ParseRowErrorPolicy(s string) (RowErrorPolicy, error) {
	switch RowErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case RowPolicyLenient, "":
		return RowPolicyLenient, nil
	case RowPolicyStrict:
		return RowPolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown row error policy %q (want lenient or strict)", s)
	}
}
