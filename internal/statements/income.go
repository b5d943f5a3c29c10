// Package statements holds the per-period income and cash-flow
// statements an agent keeps alongside its balance sheet.
package statements

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// IncomeKind classifies an income statement entry.
type IncomeKind string

// Income statement kinds.
const (
	Revenues      IncomeKind = "revenues"
	Gains         IncomeKind = "gains"
	Expenses      IncomeKind = "expenses"
	Losses        IncomeKind = "losses"
	Interest      IncomeKind = "interest"
	NOI           IncomeKind = "noi"
	Taxes         IncomeKind = "taxes"
	NontaxProfits IncomeKind = "nontax_profits"
	NontaxLosses  IncomeKind = "nontax_losses"
)

// IncomeKinds lists every income kind in statement order.
var IncomeKinds = []IncomeKind{Revenues, Gains, Expenses, Losses, Interest, NOI, Taxes, NontaxProfits, NontaxLosses}

// ParseIncomeKind parses a kind name, case insensitively. Singular forms
// ("revenue", "expense", "tax") are accepted too.
func ParseIncomeKind(s string) (IncomeKind, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	switch k {
	case "revenue":
		return Revenues, nil
	case "gain":
		return Gains, nil
	case "expense":
		return Expenses, nil
	case "loss":
		return Losses, nil
	case "tax":
		return Taxes, nil
	case "nontax_profit":
		return NontaxProfits, nil
	case "nontax_loss":
		return NontaxLosses, nil
	}
	for _, known := range IncomeKinds {
		if IncomeKind(k) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown income kind %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *IncomeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseIncomeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IncomeStatement accumulates tagged income entries for one period.
type IncomeStatement struct {
	data   map[IncomeKind]map[string]decimal.Decimal
	totals map[IncomeKind]decimal.Decimal
	last   *IncomeStatement
}

// NewIncomeStatement returns an all-zero statement.
func NewIncomeStatement() *IncomeStatement {
	s := &IncomeStatement{}
	s.clear()
	return s
}

func (s *IncomeStatement) clear() {
	s.data = make(map[IncomeKind]map[string]decimal.Decimal, len(IncomeKinds))
	s.totals = make(map[IncomeKind]decimal.Decimal, len(IncomeKinds))
}

// NewEntry adds value to the (kind, tag) entry.
func (s *IncomeStatement) NewEntry(kind IncomeKind, tag string, value decimal.Decimal) error {
	if _, err := ParseIncomeKind(string(kind)); err != nil {
		return err
	}
	row, ok := s.data[kind]
	if !ok {
		row = make(map[string]decimal.Decimal)
		s.data[kind] = row
	}
	row[tag] = row[tag].Add(value)
	s.totals[kind] = s.totals[kind].Add(value)
	return nil
}

// Entry returns the accumulated value of one entry.
func (s *IncomeStatement) Entry(kind IncomeKind, tag string) decimal.Decimal {
	return s.data[kind][tag]
}

// Tags returns the tags booked under kind, sorted.
func (s *IncomeStatement) Tags(kind IncomeKind) []string {
	out := make([]string, 0, len(s.data[kind]))
	for tag := range s.data[kind] {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// TotalOf returns the total of one kind.
func (s *IncomeStatement) TotalOf(kind IncomeKind) decimal.Decimal {
	return s.totals[kind]
}

// Reset starts a blank statement for the next period and keeps the
// current one as Last.
func (s *IncomeStatement) Reset() {
	s.last = &IncomeStatement{data: s.data, totals: s.totals}
	s.clear()
}

// Last returns the previous period's statement, or nil before the first Reset.
func (s *IncomeStatement) Last() *IncomeStatement {
	return s.last
}

// GrossIncome is revenues + gains - expenses - losses.
func (s *IncomeStatement) GrossIncome() decimal.Decimal {
	return s.totals[Revenues].Add(s.totals[Gains]).Sub(s.totals[Expenses]).Sub(s.totals[Losses])
}

// EBIT is gross income plus untaxed profits net of untaxed losses plus
// non-operating income.
func (s *IncomeStatement) EBIT() decimal.Decimal {
	return s.GrossIncome().Add(s.totals[NontaxProfits]).Sub(s.totals[NontaxLosses]).Add(s.totals[NOI])
}

// EBT is EBIT minus interest.
func (s *IncomeStatement) EBT() decimal.Decimal {
	return s.EBIT().Sub(s.totals[Interest])
}

// NetIncome is EBT minus taxes.
func (s *IncomeStatement) NetIncome() decimal.Decimal {
	return s.EBT().Sub(s.totals[Taxes])
}

// GrossSpendings is expenses + losses.
func (s *IncomeStatement) GrossSpendings() decimal.Decimal {
	return s.totals[Expenses].Add(s.totals[Losses])
}

// Spendings is expenses + losses + taxes + interest.
func (s *IncomeStatement) Spendings() decimal.Decimal {
	return s.GrossSpendings().Add(s.totals[Taxes]).Add(s.totals[Interest])
}
