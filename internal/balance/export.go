package balance

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/model"
)

// Placeholder is shown instead of zero cells in human-readable output.
const Placeholder = ".-"

// Header is the column header of the tabular export.
var Header = []string{"Item", "Assets", "Equity", "Liabilities"}

// Table returns the sheet as rows of display strings: the header, one row
// per item in creation order, then Total. Zero cells show Placeholder.
func (s *Sheet) Table() [][]string {
	out := make([][]string, 0, len(s.order)+2)
	out = append(out, append([]string(nil), Header...))
	for _, name := range s.order {
		out = append(out, displayRow(name, *s.rows[name]))
	}
	out = append(out, displayRow(model.TotalRow, s.total))
	return out
}

func displayRow(name string, e Entry) []string {
	row := []string{name}
	for _, col := range model.Columns {
		row = append(row, displayCell(e.Get(col)))
	}
	return row
}

func displayCell(d decimal.Decimal) string {
	if d.IsZero() {
		return Placeholder
	}
	return d.String()
}

// String renders an aligned dump of the sheet, used in diagnostics.
func (s *Sheet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "BALANCE SHEET OF %s\n", s.ownerName())
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, row := range s.Table() {
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	_ = tw.Flush()
	return b.String()
}

// WriteCSV writes the numeric form of the sheet (header, items, Total).
// Zero cells are left empty.
func (s *Sheet) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	write := func(name string, e Entry) error {
		row := []string{name}
		for _, col := range model.Columns {
			v := e.Get(col)
			if v.IsZero() {
				row = append(row, "")
				continue
			}
			row = append(row, v.String())
		}
		return cw.Write(row)
	}
	for i, name := range s.order {
		if err := write(name, *s.rows[name]); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	if err := write(model.TotalRow, s.total); err != nil {
		return fmt.Errorf("writing total: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
