package flow

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow-dev/stockflow/internal/model"
)

func sampleLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	require.NoError(t, l.LogFlow(cc, dec("5"), alice, bank, "deposit"))
	require.NoError(t, l.LogFlow(cc, dec("2"), bob, bank, "deposit"))
	l.PostStock("ΔCash", alice, dec("5"))
	return l
}

func TestTableUngrouped(t *testing.T) {
	tbl := sampleLedger(t).Table(false)

	assert.Equal(t, []string{"deposit", "ΔCash"}, tbl.Subjects)
	require.Len(t, tbl.Columns, 6)
	assert.Equal(t, Column{Label: "Alice", Kind: model.Current}, tbl.Columns[0])
	assert.Equal(t, Column{Label: "Alice", Kind: model.Capital}, tbl.Columns[1])
	assert.Equal(t, "Bank", tbl.Columns[2].Label)
	assert.Equal(t, "Bob", tbl.Columns[4].Label)

	assert.True(t, dec("-5").Equal(tbl.Cells[0][0]))
	assert.True(t, dec("7").Equal(tbl.Cells[0][2]))
	assert.True(t, dec("-2").Equal(tbl.Cells[0][4]))
	assert.True(t, dec("5").Equal(tbl.Cells[1][1]))

	assert.True(t, tbl.RowTotals[0].IsZero())
	assert.True(t, dec("5").Equal(tbl.RowTotals[1]))
	assert.True(t, dec("5").Equal(tbl.GrandTotal))
}

func TestTableGroupedSumsClasses(t *testing.T) {
	l := sampleLedger(t)
	grouped := l.Table(true)
	flat := l.Table(false)

	require.Len(t, grouped.Columns, 4)
	assert.Equal(t, "Bank", grouped.Columns[0].Label)
	assert.Equal(t, "Households", grouped.Columns[2].Label)
	assert.True(t, dec("-7").Equal(grouped.Cells[0][2]))

	for i := range flat.Subjects {
		assert.True(t, flat.RowTotals[i].Equal(grouped.RowTotals[i]), "row %s", flat.Subjects[i])
	}
	assert.True(t, flat.GrandTotal.Equal(grouped.GrandTotal))
}

func TestTableGroupedSingleMemberKeepsLabel(t *testing.T) {
	l := New()
	require.NoError(t, l.LogFlow(cc, dec("1"), alice, bank, "fee"))
	tbl := l.Table(true)

	labels := []string{}
	for _, c := range tbl.Columns {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{"Bank", "Bank", "Household", "Household"}, labels)
}

func TestTableClasslessAgentGroupsByName(t *testing.T) {
	l := New()
	loner := model.AgentRef{Name: "Gov"}
	require.NoError(t, l.LogFlow(cc, dec("1"), loner, bank, "tax"))
	tbl := l.Table(true)
	assert.Equal(t, "Gov", tbl.Columns[2].Label)
}

func TestTableString(t *testing.T) {
	out := sampleLedger(t).Table(true).String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Households")
	assert.Contains(t, lines[1], "CA")
	assert.Contains(t, lines[1], "KA")
	assert.Contains(t, lines[2], "deposit")
	assert.Contains(t, lines[2], Placeholder)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(lines[4]), model.TotalRow))
}

func TestTableWriteCSV(t *testing.T) {
	l := New()
	require.NoError(t, l.LogFlow(cc, dec("5"), alice, bank, "deposit"))

	var buf bytes.Buffer
	require.NoError(t, l.Table(false).WriteCSV(&buf))
	want := "Subject,Alice CA,Alice KA,Bank CA,Bank KA,Total\n" +
		"deposit,-5,,5,,\n" +
		"Total,-5,,5,,\n"
	assert.Equal(t, want, buf.String())
}

func TestRoundingPlaces(t *testing.T) {
	tests := []struct {
		m    string
		want int32
	}{
		{"0", 4},
		{"1", 4},
		{"0.5", 4},
		{"0.1", 5},
		{"0.05", 5},
		{"10", 3},
		{"11", 2},
		{"1000", 1},
		{"123456", -2},
	}
	for _, tt := range tests {
		t.Run(tt.m, func(t *testing.T) {
			assert.Equal(t, tt.want, roundingPlaces(dec(tt.m)))
		})
	}
}

func TestRoundedKeepsShape(t *testing.T) {
	tbl := sampleLedger(t).Table(true)
	r := tbl.Rounded()
	assert.Equal(t, tbl.Subjects, r.Subjects)
	assert.Equal(t, tbl.Columns, r.Columns)
	assert.True(t, tbl.GrandTotal.Equal(r.GrandTotal))
}

func TestEmptyTable(t *testing.T) {
	tbl := New().Table(true)
	assert.True(t, tbl.Empty())
	assert.Empty(t, tbl.Columns)
}

func TestTableGroupedKeepsPluralLabelApartFromClass(t *testing.T) {
	banks := model.AgentRef{Name: "Banks__00001", Class: "Banks"}
	bank1 := model.AgentRef{Name: "Bank__00001", Class: "Bank"}
	bank2 := model.AgentRef{Name: "Bank__00002", Class: "Bank"}

	l := New()
	require.NoError(t, l.LogFlow(cc, dec("5"), banks, bank1, "loan"))
	require.NoError(t, l.LogFlow(cc, dec("1"), bank2, bank1, "fee"))

	tbl := l.Table(true)
	require.Len(t, tbl.Columns, 4)
	assert.Equal(t, "Banks", tbl.Columns[0].Label)
	assert.Equal(t, "Banks", tbl.Columns[2].Label)
	// Bank sorts before Banks as a class
	assert.True(t, dec("5").Equal(tbl.ColTotals[0]))
	assert.True(t, dec("-5").Equal(tbl.ColTotals[2]))

	var ie *InconsistencyError
	require.ErrorAs(t, l.CheckConsistency(), &ie)
	assert.Equal(t, AxisColumn, ie.Axis)
}

func TestTableGroupedClasslessAgentNamedLikeClass(t *testing.T) {
	gov := model.AgentRef{Name: "Household"}
	l := New()
	require.NoError(t, l.LogFlow(cc, dec("3"), alice, gov, "tax"))

	tbl := l.Table(true)
	require.Len(t, tbl.Columns, 4)
	assert.Error(t, l.CheckConsistency())
}

func TestTableGroupedLabelFollowsClassSize(t *testing.T) {
	sizes := map[string]int{"Household": 3, "Bank": 1}
	l := New(WithClassSizes(func(class string) int { return sizes[class] }))
	require.NoError(t, l.LogFlow(cc, dec("1"), alice, bank, "fee"))

	tbl := l.Table(true)
	labels := []string{}
	for _, c := range tbl.Columns {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{"Bank", "Bank", "Households", "Households"}, labels)
}
