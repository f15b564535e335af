package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"statement-relay/internal/parser"
	"statement-relay/pkg/config"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

var ErrNoTextExtracted = errors.New("no text extracted")

// errorBodyLimit bounds how much of a failed response ends up in the error.
const errorBodyLimit = 512

// RemoteExtractor sends documents to the OCR endpoint of the analysis utility
// service (POST multipart "file", response {"text": "..."}).
type RemoteExtractor struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	attempts   int
	backoff    time.Duration
	logger     *zap.Logger
}

func NewRemoteExtractor(cfg *config.ExtractionConfig, logger *zap.Logger) *RemoteExtractor {
	return &RemoteExtractor{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		timeout:    cfg.Timeout,
		attempts:   cfg.Attempts,
		backoff:    cfg.Backoff,
		logger:     logger,
	}
}

// ExtractText retries network failures and 5xx responses. A 4xx means the
// service rejected the document and is returned as is.
func (e *RemoteExtractor) ExtractText(ctx context.Context, data []byte, fileName string) (string, error) {
	var text string
	err := retry(ctx, e.attempts, e.backoff, e.logger, "extract_text", func(attempt int) error {
		var err error
		text, err = e.extractOnce(ctx, data, fileName)
		return err
	})
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoTextExtracted
	}

	e.logger.Info("Text extraction completed",
		zap.String("file", fileName),
		zap.String("method", "remote"),
		zap.Int("text_length", len(text)),
	)
	return text, nil
}

func (e *RemoteExtractor) extractOnce(ctx context.Context, data []byte, fileName string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	body, contentType, err := buildFileForm(data, fileName)
	if err != nil {
		return "", permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return "", permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		err := fmt.Errorf("extraction failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if resp.StatusCode < http.StatusInternalServerError {
			return "", permanent(err)
		}
		return "", err
	}

	var extractResp struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&extractResp); err != nil {
		return "", permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return extractResp.Text, nil
}

func buildFileForm(data []byte, fileName string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	part, err := writer.CreatePart(map[string][]string{
		"Content-Type":        {mimeType},
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(fileName))},
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

// FitzExtractor reads the text layer of PDFs in-process with MuPDF. It cannot
// OCR scans, so it only offers application/pdf to the parser factory.
type FitzExtractor struct {
	logger *zap.Logger
}

func NewFitzExtractor(logger *zap.Logger) *FitzExtractor {
	return &FitzExtractor{logger: logger}
}

func (e *FitzExtractor) HandlesMimeType(mimeType string) bool {
	return mimeType == parser.MimeTypePDF
}

func (e *FitzExtractor) ExtractText(ctx context.Context, data []byte, fileName string) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pageText, err := doc.Text(i)
		if err != nil {
			e.logger.Warn("Failed to extract text from page",
				zap.Int("page", i+1),
				zap.String("file", fileName),
				zap.Error(err),
			)
			continue
		}
		if pageText != "" {
			textBuilder.WriteString(pageText)
			textBuilder.WriteString("\n")
		}
	}

	text := strings.TrimSpace(textBuilder.String())
	if text == "" {
		return "", ErrNoTextExtracted
	}

	e.logger.Info("Text extraction completed",
		zap.String("file", fileName),
		zap.String("method", "go-fitz"),
		zap.Int("pages", doc.NumPage()),
		zap.Int("text_length", len(text)),
	)
	return text, nil
}

// NewTextExtractor picks the extractor named by cfg.Provider.
func NewTextExtractor(cfg *config.ExtractionConfig, logger *zap.Logger) (parser.TextExtractor, error) {
	switch cfg.Provider {
	case "", "remote":
		return NewRemoteExtractor(cfg, logger), nil
	case "local":
		return NewFitzExtractor(logger), nil
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", cfg.Provider)
	}
}
