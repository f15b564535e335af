package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"statement-relay/internal/models"

	"github.com/shopspring/decimal"
)

const unknownDescription = "Unknown Transaction"

// RawFields is what a format parser pulls out of one row or line before any
// interpretation. Empty strings mean "absent".
type RawFields struct {
	Date        string
	Description string
	AmountText  string
	BalanceText string
	TypeHint    string
}

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"01/02/06",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
}

var (
	nonAmountChars  = regexp.MustCompile(`[^0-9.\-]`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
	trailingState   = regexp.MustCompile(`\s+[A-Z]{2}\s*\d*$`)
	trailingCode    = regexp.MustCompile(`\s+\d{6}$`)
	trailingMMDD    = regexp.MustCompile(`\s+\d{2}/\d{2}$`)
	disallowedChars = regexp.MustCompile(`[^\w\s\-.,&()]`)
)

const centPlaces = 2

// Normalize maps raw fields onto a transaction record. When raw.Date is empty
// defaultDate is used.
//
// The type hint only signs magnitudes that carry no sign of their own; an
// explicit minus or accounting parentheses always win. The resulting Type is
// derived from the final sign, never from the hint.
func Normalize(raw RawFields, defaultDate time.Time) (*models.Transaction, error) {
	amount, err := ParseAmount(raw.AmountText)
	if err != nil {
		return nil, err
	}
	if raw.TypeHint != "" && !hasExplicitSign(raw.AmountText) && HintDirection(raw.TypeHint) == models.TransactionTypeExpense {
		amount = amount.Neg()
	}
	// Stored with two decimal places; the type must follow the stored value.
	amount = amount.Round(centPlaces)

	var balance decimal.Decimal
	if strings.TrimSpace(raw.BalanceText) != "" {
		// An unreadable running balance is not worth dropping the row for.
		if b, err := ParseAmount(raw.BalanceText); err == nil {
			balance = b.Round(centPlaces)
		}
	}

	date := truncateDay(defaultDate)
	if strings.TrimSpace(raw.Date) != "" {
		date, err = ParseDate(raw.Date)
		if err != nil {
			return nil, err
		}
	}

	return &models.Transaction{
		Date:        date,
		Amount:      amount,
		Balance:     balance,
		Description: tidyDescription(raw.Description),
		Type:        models.TypeFromAmount(amount),
	}, nil
}

// ParseAmount strips everything except digits, dots and minus signs and
// parses the rest as a decimal. Accounting-style "(12.34)" is negative.
func ParseAmount(text string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(text)
	cleaned := nonAmountChars.ReplaceAllString(trimmed, "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", text)
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", text)
	}
	if strings.HasPrefix(trimmed, "(") && strings.HasSuffix(trimmed, ")") && !value.IsNegative() {
		value = value.Neg()
	}
	return value, nil
}

// ParseDate accepts the handful of layouts bank exports actually use and
// returns the calendar day at UTC midnight.
func ParseDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", text)
}

// HintDirection classifies a free-form direction column. This is a substring
// heuristic: anything mentioning "credit" (or already saying "income") is
// income, everything else is an expense.
func HintDirection(hint string) models.TransactionType {
	h := strings.ToLower(hint)
	if strings.Contains(h, "credit") || strings.Contains(h, "income") {
		return models.TransactionTypeIncome
	}
	return models.TransactionTypeExpense
}

// CleanDescription removes the noise card processors append to merchant
// names: location codes, reference numbers and MM/DD suffixes. The rules are
// fixed; per-bank templates would hook in here.
func CleanDescription(description string) string {
	cleaned := strings.TrimSpace(whitespaceRuns.ReplaceAllString(sanitizeUTF8(description), " "))

	cleaned = trailingState.ReplaceAllString(cleaned, "")
	cleaned = trailingCode.ReplaceAllString(cleaned, "")
	cleaned = trailingMMDD.ReplaceAllString(cleaned, "")
	cleaned = disallowedChars.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(whitespaceRuns.ReplaceAllString(cleaned, " "))

	if cleaned == "" {
		return unknownDescription
	}
	return cleaned
}

func tidyDescription(description string) string {
	cleaned := strings.TrimSpace(whitespaceRuns.ReplaceAllString(sanitizeUTF8(description), " "))
	if cleaned == "" {
		return unknownDescription
	}
	return cleaned
}

func hasExplicitSign(amountText string) bool {
	t := strings.TrimSpace(amountText)
	return strings.Contains(t, "-") || (strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")"))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sanitizeUTF8 drops invalid UTF-8 sequences so descriptions never trip
// Postgres encoding checks.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var result strings.Builder
	result.Grow(len(s))

	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			s = s[1:]
			continue
		}
		result.WriteRune(r)
		s = s[size:]
	}

	return result.String()
}

var errMissingField = errors.New("missing required field")
