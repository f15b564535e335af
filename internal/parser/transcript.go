package parser

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"statement-relay/internal/models"

	"go.uber.org/zap"
)

// TranscriptParser handles documents that have to go through text extraction
// first (PDF statements, photographed statements). The extracted transcript
// is scanned line by line with the grammar in grammar.go.
type TranscriptParser struct {
	extractor TextExtractor
	fileName  string
	now       func() time.Time
	logger    *zap.Logger
}

func NewTranscriptParser(extractor TextExtractor, fileName string, logger *zap.Logger) *TranscriptParser {
	return &TranscriptParser{
		extractor: extractor,
		fileName:  fileName,
		now:       time.Now,
		logger:    logger,
	}
}

func (p *TranscriptParser) Parse(ctx context.Context, data []byte) ([]*models.Transaction, error) {
	text, err := p.extractor.ExtractText(ctx, data, p.fileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	transactions, err := p.ParseText(text)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Parsed statement transcript",
		zap.String("grammar", GrammarVersion),
		zap.Int("transactions", len(transactions)),
	)

	return transactions, nil
}

// ParseText runs the line grammar over an already extracted transcript.
// Lines carry only MM/DD; the year comes from the most recent
// statement-period header, or the current year before any header is seen.
func (p *TranscriptParser) ParseText(text string) ([]*models.Transaction, error) {
	currentYear := p.now().Year()
	var transactions []*models.Transaction

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if year, ok := matchStatementYear(line); ok {
			currentYear = year
		}

		m, ok := matchTransactionLine(line)
		if !ok {
			continue
		}

		tx, err := Normalize(RawFields{
			Date:        fmt.Sprintf("%s/%04d", m.MonthDay, currentYear),
			Description: m.Description,
			AmountText:  m.Amount,
			BalanceText: m.Balance,
		}, p.now())
		if err != nil {
			p.logger.Warn("Skipping unparseable statement line",
				zap.Int("line", lineNo),
				zap.String("text", strings.TrimSpace(line)),
				zap.Error(err),
			)
			continue
		}
		transactions = append(transactions, tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	if len(transactions) == 0 {
		return nil, ErrEmptyResult
	}
	return transactions, nil
}
