package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"statement-relay/internal/models"

	"go.uber.org/zap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var headerSeparators = regexp.MustCompile(`[\s_-]+`)

type csvField int

const (
	fieldTypeHint csvField = iota
	fieldAmount
	fieldDescription
	fieldBalance
	fieldDate
	fieldCount
)

func (f csvField) String() string {
	switch f {
	case fieldTypeHint:
		return "type"
	case fieldAmount:
		return "amount"
	case fieldDescription:
		return "description"
	case fieldBalance:
		return "balance"
	case fieldDate:
		return "date"
	}
	return "unknown"
}

// Header aliases, most specific first. Headers are lower-cased and have
// runs of whitespace, underscores and dashes folded to a single space before matching.
var headerAliases = [fieldCount][]*regexp.Regexp{
	fieldTypeHint: {
		regexp.MustCompile(`^type$`),
		regexp.MustCompile(`\btransaction type\b`),
		regexp.MustCompile(`\bdetails\b`),
		regexp.MustCompile(`\b(credit ?/ ?debit|debit ?/ ?credit|direction)\b`),
		regexp.MustCompile(`\btype\b`),
	},
	fieldAmount: {
		regexp.MustCompile(`^amount$`),
		regexp.MustCompile(`\bamount\b`),
	},
	fieldDescription: {
		regexp.MustCompile(`^description$`),
		regexp.MustCompile(`\bdescription\b`),
		regexp.MustCompile(`\b(memo|payee|narrative)\b`),
	},
	fieldBalance: {
		regexp.MustCompile(`\bbalance\b`),
	},
	fieldDate: {
		regexp.MustCompile(`\bposting date\b`),
		regexp.MustCompile(`\btransaction date\b`),
		regexp.MustCompile(`^date$`),
		regexp.MustCompile(`\bdate\b`),
	},
}

var requiredFields = []csvField{fieldTypeHint, fieldAmount, fieldDescription}

// CSVParser reads delimited bank exports with a header row. Columns are
// located by name, so their order does not matter and extra columns are
// ignored.
type CSVParser struct {
	policy RowErrorPolicy
	now    func() time.Time
	logger *zap.Logger
}

func NewCSVParser(policy RowErrorPolicy, logger *zap.Logger) *CSVParser {
	if policy == "" {
		policy = RowPolicyLenient
	}
	return &CSVParser{
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

func (p *CSVParser) Parse(ctx context.Context, data []byte) ([]*models.Transaction, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyResult
	}
	if err != nil {
		return nil, &ParseError{Line: 1, Err: fmt.Errorf("failed to read header: %w", err)}
	}

	columns, err := mapColumns(header)
	if err != nil {
		return nil, &ParseError{Line: 1, Err: err}
	}

	ingestedOn := p.now()
	var (
		transactions []*models.Transaction
		skipped      int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		line := 0
		if err != nil {
			var csvErr *csv.ParseError
			if !errors.As(err, &csvErr) {
				return nil, fmt.Errorf("failed to read csv: %w", err)
			}
			line = csvErr.StartLine
		} else {
			line, _ = reader.FieldPos(0)
			if isBlankRecord(record) {
				continue
			}
			var tx *models.Transaction
			tx, err = p.parseRecord(record, columns, ingestedOn)
			if err == nil {
				transactions = append(transactions, tx)
				continue
			}
		}

		if p.policy == RowPolicyStrict {
			return nil, &ParseError{Line: line, Err: err}
		}
		skipped++
		p.logger.Warn("Skipping invalid CSV row",
			zap.Int("line", line),
			zap.Error(err),
		)
	}

	if len(transactions) == 0 {
		if skipped > 0 {
			return nil, fmt.Errorf("%w: all %d rows were invalid", ErrEmptyResult, skipped)
		}
		return nil, ErrEmptyResult
	}

	p.logger.Debug("Parsed CSV statement",
		zap.Int("transactions", len(transactions)),
		zap.Int("skipped", skipped),
	)

	return transactions, nil
}

func (p *CSVParser) parseRecord(record []string, columns [fieldCount]int, ingestedOn time.Time) (*models.Transaction, error) {
	get := func(f csvField) string {
		i := columns[f]
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	for _, f := range []csvField{fieldTypeHint, fieldAmount} {
		if get(f) == "" {
			return nil, fmt.Errorf("%w: %s", errMissingField, f)
		}
	}

	return Normalize(RawFields{
		Date:        get(fieldDate),
		Description: CleanDescription(get(fieldDescription)),
		AmountText:  get(fieldAmount),
		BalanceText: get(fieldBalance),
		TypeHint:    get(fieldTypeHint),
	}, ingestedOn)
}

func mapColumns(header []string) ([fieldCount]int, error) {
	var columns [fieldCount]int
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.TrimSpace(headerSeparators.ReplaceAllString(strings.ToLower(h), " "))
	}

	taken := make(map[int]bool, len(header))
	for f := csvField(0); f < fieldCount; f++ {
		columns[f] = -1
	search:
		for _, alias := range headerAliases[f] {
			for i, h := range normalized {
				if !taken[i] && alias.MatchString(h) {
					columns[f] = i
					taken[i] = true
					break search
				}
			}
		}
	}

	var missing []string
	for _, f := range requiredFields {
		if columns[f] < 0 {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		return columns, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return columns, nil
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
