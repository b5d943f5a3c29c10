package model

import (
	"fmt"
	"strings"
)

// AccountKind classifies a flow as current-account or capital-account.
type AccountKind int

const (
	Current AccountKind = iota // CA: income/expense-type flows
	Capital                    // KA: asset/liability-change-type flows
)

// AccountKinds lists every kind in table order.
var AccountKinds = []AccountKind{Current, Capital}

// String returns the short table label ("CA" or "KA").
func (k AccountKind) String() string {
	switch k {
	case Current:
		return "CA"
	case Capital:
		return "KA"
	default:
		return fmt.Sprintf("AccountKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k AccountKind) MarshalText() ([]byte, error) {
	switch k {
	case Current:
		return []byte("current"), nil
	case Capital:
		return []byte("capital"), nil
	}
	return nil, fmt.Errorf("unknown account kind %d", int(k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *AccountKind) UnmarshalText(text []byte) error {
	kind, err := ParseAccountKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseAccountKind accepts "current"/"capital" and the "CA"/"KA" labels.
func ParseAccountKind(s string) (AccountKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "current", "ca":
		return Current, nil
	case "capital", "ka":
		return Capital, nil
	}
	return 0, fmt.Errorf("unknown account kind %q", s)
}

// Column is one of the three balance sheet columns.
type Column int

// Balance sheet columns.
const (
	Assets Column = iota
	Equity
	Liabilities
)

// Columns lists the balance sheet columns in display order.
var Columns = []Column{Assets, Equity, Liabilities}

// TotalRow is the reserved aggregate row of a balance sheet and the
// aggregate row/column of a flow table. It is a row identity, not a column.
const TotalRow = "Total"

func (c Column) String() string {
	switch c {
	case Assets:
		return "Assets"
	case Equity:
		return "Equity"
	case Liabilities:
		return "Liabilities"
	default:
		return fmt.Sprintf("Column(%d)", int(c))
	}
}

// Valid reports whether c is one of the three known columns.
func (c Column) Valid() bool {
	return c >= Assets && c <= Liabilities
}

// MarshalText implements encoding.TextMarshaler.
func (c Column) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown column %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Column) UnmarshalText(text []byte) error {
	col, err := ParseColumn(string(text))
	if err != nil {
		return err
	}
	*c = col
	return nil
}

// ParseColumn parses a column name, case-insensitively.
func ParseColumn(s string) (Column, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assets", "asset":
		return Assets, nil
	case "equity":
		return Equity, nil
	case "liabilities", "liability":
		return Liabilities, nil
	}
	return 0, fmt.Errorf("unknown column %q", s)
}
