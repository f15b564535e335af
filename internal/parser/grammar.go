package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// GrammarVersion identifies the transcript line grammar below. Bump it when a
// pattern changes so stored imports can be traced back to the rules that
// produced them.
const GrammarVersion = "v1"

var (
	// "January 31, 2023 through February 28, 2023": the first date's year
	// applies to the MM/DD lines that follow.
	statementPeriodPattern = regexp.MustCompile(`(?P<month>[A-Za-z]+) (?P<day>\d{1,2}), (?P<year>\d{4}) through`)

	// "01/15 COFFEE SHOP -4.50 1,234.56". Sign may be separated from the
	// digits by spaces; the running balance is optional.
	transactionLinePattern = regexp.MustCompile(
		`(?P<date>\d{2}/\d{2})\s*` +
			`(?P<description>[^-\d].*?)\s*` +
			`(?P<sign>-\s*|\s+)?` +
			`(?P<whole>\d{1,3}(?:,\d{3})*|\d+)\.(?P<fraction>\d{2})\s*` +
			`(?P<balance>[\d,]+\.\d{2})?`,
	)
)

// pageMarker excludes footer lines such as "01/31 Page 2 of 4 ... 1.00".
const pageMarker = "Page"

type lineMatch struct {
	MonthDay    string
	Description string
	Amount      string
	Balance     string
}

// matchStatementYear reports the year of a statement-period header.
func matchStatementYear(line string) (int, bool) {
	m := statementPeriodPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[statementPeriodPattern.SubexpIndex("year")])
	if err != nil {
		return 0, false
	}
	return year, true
}

// matchTransactionLine finds the leftmost transaction on the line whose
// remainder (from the date onwards) does not mention a page marker.
func matchTransactionLine(line string) (lineMatch, bool) {
	for offset := 0; offset < len(line); {
		loc := transactionLinePattern.FindStringSubmatchIndex(line[offset:])
		if loc == nil {
			return lineMatch{}, false
		}
		start := offset + loc[0]
		if strings.Contains(line[start:], pageMarker) {
			offset = start + 1
			continue
		}
		return buildLineMatch(line[offset:], loc), true
	}
	return lineMatch{}, false
}

func buildLineMatch(s string, loc []int) lineMatch {
	group := func(name string) string {
		i := transactionLinePattern.SubexpIndex(name)
		if loc[2*i] < 0 {
			return ""
		}
		return s[loc[2*i]:loc[2*i+1]]
	}

	amount := group("whole") + "." + group("fraction")
	if strings.Contains(group("sign"), "-") {
		amount = "-" + amount
	}

	return lineMatch{
		MonthDay:    group("date"),
		Description: group("description"),
		Amount:      amount,
		Balance:     group("balance"),
	}
}
