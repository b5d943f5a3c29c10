package statements

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CashFlowKind classifies a cash flow statement entry.
type CashFlowKind string

// Cash flow kinds.
const (
	Operating CashFlowKind = "operating"
	Financing CashFlowKind = "financing"
	Investing CashFlowKind = "investing"
)

// CashFlowKinds lists every cash flow kind.
var CashFlowKinds = []CashFlowKind{Operating, Financing, Investing}

// ParseCashFlowKind parses a kind name, case insensitively.
func ParseCashFlowKind(s string) (CashFlowKind, error) {
	k := CashFlowKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range CashFlowKinds {
		if k == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown cash flow kind %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CashFlowKind) UnmarshalText(text []byte) error {
	parsed, err := ParseCashFlowKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// CashFlowStatement accumulates tagged cash flows for one period.
type CashFlowStatement struct {
	data   map[CashFlowKind]map[string]decimal.Decimal
	totals map[CashFlowKind]decimal.Decimal
}

// NewCashFlowStatement returns an all-zero statement.
func NewCashFlowStatement() *CashFlowStatement {
	s := &CashFlowStatement{}
	s.Reset()
	return s
}

// NewEntry adds value to the (kind, tag) entry.
func (s *CashFlowStatement) NewEntry(kind CashFlowKind, tag string, value decimal.Decimal) error {
	if _, err := ParseCashFlowKind(string(kind)); err != nil {
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
func (s *CashFlowStatement) Entry(kind CashFlowKind, tag string) decimal.Decimal {
	return s.data[kind][tag]
}

// TotalOf returns the total of one kind.
func (s *CashFlowStatement) TotalOf(kind CashFlowKind) decimal.Decimal {
	return s.totals[kind]
}

// Total is operating + financing + investing.
func (s *CashFlowStatement) Total() decimal.Decimal {
	return s.totals[Operating].Add(s.totals[Financing]).Add(s.totals[Investing])
}

// Reset clears all entries for the next period.
func (s *CashFlowStatement) Reset() {
	s.data = make(map[CashFlowKind]map[string]decimal.Decimal, len(CashFlowKinds))
	s.totals = make(map[CashFlowKind]decimal.Decimal, len(CashFlowKinds))
}
