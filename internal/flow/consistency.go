package flow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInconsistent is wrapped by every InconsistencyError.
var ErrInconsistent = errors.New("flow table inconsistent")

// Axis names the table dimension that failed to net to zero.
const (
	AxisRow    = "row"
	AxisColumn = "column"
)

// InconsistencyError reports the first row or column of the grouped flow
// table whose total is nonzero after rounding. Table is the rounded table.
type InconsistencyError struct {
	Axis  string
	Label string
	Total decimal.Decimal
	Table *Table
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("inconsistent %s %q in flow table (total %s):\n%s", e.Axis, e.Label, e.Total, e.Table)
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistent }

// CheckConsistency verifies that every subject row and every column of the
// grouped flow table sums to zero. Values are rounded relative to the
// table's largest magnitude first, so float-like noise does not trip the
// check. An empty ledger is consistent.
func (l *Ledger) CheckConsistency() error {
	err := l.checkConsistency()
	l.metrics.ConsistencyCheck(err == nil)
	return err
}

func (l *Ledger) checkConsistency() error {
	t := l.Table(true)
	if t.Empty() {
		return nil
	}
	r := t.Rounded()
	for i, total := range r.RowTotals {
		if !total.IsZero() {
			return &InconsistencyError{Axis: AxisRow, Label: r.Subjects[i], Total: total, Table: r}
		}
	}
	for j, total := range r.ColTotals {
		if !total.IsZero() {
			return &InconsistencyError{Axis: AxisColumn, Label: r.Columns[j].String(), Total: total, Table: r}
		}
	}
	return nil
}
