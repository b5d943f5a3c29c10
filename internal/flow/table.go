package flow

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/model"
)

// Placeholder is shown instead of zero cells in human-readable output.
const Placeholder = ".-"

// Column is one (agent or group, account kind) column of a flow table.
type Column struct {
	Label string
	Kind  model.AccountKind
}

func (c Column) String() string {
	return c.Label + " " + c.Kind.String()
}

// Table is a snapshot of the ledger with subjects as rows and
// (agent, kind) pairs as columns, plus signed row and column totals.
type Table struct {
	Subjects   []string
	Columns    []Column
	Cells      [][]decimal.Decimal // [subject][column]
	RowTotals  []decimal.Decimal
	ColTotals  []decimal.Decimal
	GrandTotal decimal.Decimal
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return len(t.Subjects) == 0
}

// columnGroup returns the key an agent's amounts are summed under. In
// grouped mode that is its class, or the agent itself when it has none.
func columnGroup(a model.AgentRef, grouped bool) model.AgentRef {
	if !grouped || a.Class == "" {
		return a
	}
	return model.AgentRef{Class: a.Class}
}

type columnKey struct {
	group model.AgentRef
	kind  model.AccountKind
}

// Table builds the current flow table. In grouped mode agents of the same
// class share one column per kind; the label gets an "s" when the class
// has more than one member. Members are counted with the ledger's class
// sizes when set, otherwise among the agents with postings.
func (l *Ledger) Table(grouped bool) *Table {
	agents := l.Agents()

	contributing := make(map[string]int)
	for _, a := range agents {
		if a.Class != "" {
			contributing[a.Class]++
		}
	}
	size := func(class string) int {
		if l.classSize != nil {
			return l.classSize(class)
		}
		return contributing[class]
	}

	label := make(map[model.AgentRef]string)
	var groups []model.AgentRef
	for _, a := range agents {
		g := columnGroup(a, grouped)
		if _, ok := label[g]; ok {
			continue
		}
		switch {
		case g.Class == "" || !grouped:
			label[g] = a.Name
		case size(g.Class) > 1:
			label[g] = g.Class + "s"
		default:
			label[g] = g.Class
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		gi, gj := groups[i], groups[j]
		if label[gi] != label[gj] {
			return label[gi] < label[gj]
		}
		if gi.Class != gj.Class {
			return gi.Class < gj.Class
		}
		return gi.Name < gj.Name
	})

	t := &Table{Subjects: l.Subjects()}
	colIndex := make(map[columnKey]int)
	for _, g := range groups {
		for _, k := range model.AccountKinds {
			colIndex[columnKey{g, k}] = len(t.Columns)
			t.Columns = append(t.Columns, Column{Label: label[g], Kind: k})
		}
	}

	t.Cells = make([][]decimal.Decimal, len(t.Subjects))
	t.RowTotals = make([]decimal.Decimal, len(t.Subjects))
	t.ColTotals = make([]decimal.Decimal, len(t.Columns))
	for i, subject := range t.Subjects {
		t.Cells[i] = make([]decimal.Decimal, len(t.Columns))
		for _, k := range model.AccountKinds {
			for a, v := range l.tables[k][subject] {
				j := colIndex[columnKey{columnGroup(a, grouped), k}]
				t.Cells[i][j] = t.Cells[i][j].Add(v)
			}
		}
	}
	for i := range t.Subjects {
		for j := range t.Columns {
			v := t.Cells[i][j]
			t.RowTotals[i] = t.RowTotals[i].Add(v)
			t.ColTotals[j] = t.ColTotals[j].Add(v)
			t.GrandTotal = t.GrandTotal.Add(v)
		}
	}
	return t
}

func (t *Table) magnitude() decimal.Decimal {
	m := t.GrandTotal.Abs()
	for i := range t.Subjects {
		m = decimal.Max(m, t.RowTotals[i].Abs())
		for j := range t.Columns {
			m = decimal.Max(m, t.Cells[i][j].Abs())
		}
	}
	for j := range t.Columns {
		m = decimal.Max(m, t.ColTotals[j].Abs())
	}
	return m
}

// Rounded returns a copy of the table with every cell and total rounded to
// four significant orders of magnitude below its largest absolute value.
func (t *Table) Rounded() *Table {
	places := roundingPlaces(t.magnitude())
	r := func(d decimal.Decimal) decimal.Decimal { return d.Round(places) }

	out := &Table{
		Subjects:   append([]string(nil), t.Subjects...),
		Columns:    append([]Column(nil), t.Columns...),
		Cells:      make([][]decimal.Decimal, len(t.Cells)),
		RowTotals:  make([]decimal.Decimal, len(t.RowTotals)),
		ColTotals:  make([]decimal.Decimal, len(t.ColTotals)),
		GrandTotal: r(t.GrandTotal),
	}
	for i, row := range t.Cells {
		out.Cells[i] = make([]decimal.Decimal, len(row))
		for j, v := range row {
			out.Cells[i][j] = r(v)
		}
		out.RowTotals[i] = r(t.RowTotals[i])
	}
	for j, v := range t.ColTotals {
		out.ColTotals[j] = r(v)
	}
	return out
}

// roundingPlaces returns 4 - ceil(log10(m)). Zero magnitude keeps four places.
func roundingPlaces(m decimal.Decimal) int32 {
	if !m.IsPositive() {
		return 4
	}
	// ceil(log10 m) is the digit count of the integer part for m >= 1,
	// and minus the count of leading fractional zeros for m < 1.
	exp := int32(0)
	one := decimal.NewFromInt(1)
	ten := decimal.NewFromInt(10)
	p := one
	if m.GreaterThan(one) {
		for p.LessThan(m) {
			p = p.Mul(ten)
			exp++
		}
	} else {
		for p.Div(ten).GreaterThanOrEqual(m) {
			p = p.Div(ten)
			exp--
		}
	}
	return 4 - exp
}

func cellText(d decimal.Decimal) string {
	if d.IsZero() {
		return Placeholder
	}
	return d.String()
}

// String renders the table with a two-line header (label, kind).
func (t *Table) String() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)

	labels := []string{""}
	kinds := []string{""}
	for _, c := range t.Columns {
		labels = append(labels, c.Label)
		kinds = append(kinds, c.Kind.String())
	}
	labels = append(labels, model.TotalRow)
	kinds = append(kinds, "")
	fmt.Fprintln(tw, strings.Join(labels, "\t")+"\t")
	fmt.Fprintln(tw, strings.Join(kinds, "\t")+"\t")

	for i, subject := range t.Subjects {
		row := []string{subject}
		for _, v := range t.Cells[i] {
			row = append(row, cellText(v))
		}
		row = append(row, cellText(t.RowTotals[i]))
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}

	total := []string{model.TotalRow}
	for _, v := range t.ColTotals {
		total = append(total, cellText(v))
	}
	total = append(total, cellText(t.GrandTotal))
	fmt.Fprintln(tw, strings.Join(total, "\t")+"\t")
	_ = tw.Flush()
	return b.String()
}

// WriteCSV writes the numeric table. Column headers are "<label> <kind>";
// zero cells are left empty.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"Subject"}
	for _, c := range t.Columns {
		header = append(header, c.String())
	}
	header = append(header, model.TotalRow)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	numeric := func(d decimal.Decimal) string {
		if d.IsZero() {
			return ""
		}
		return d.String()
	}
	for i, subject := range t.Subjects {
		row := []string{subject}
		for _, v := range t.Cells[i] {
			row = append(row, numeric(v))
		}
		row = append(row, numeric(t.RowTotals[i]))
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	total := []string{model.TotalRow}
	for _, v := range t.ColTotals {
		total = append(total, numeric(v))
	}
	total = append(total, numeric(t.GrandTotal))
	if err := cw.Write(total); err != nil {
		return fmt.Errorf("writing total: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
