package balance

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow-dev/stockflow/internal/flow"
	"github.com/stockflow-dev/stockflow/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testOwner implements Owner and BankruptcyHandler.
type testOwner struct {
	ref     model.AgentRef
	reasons []string
}

func (o *testOwner) Ref() model.AgentRef { return o.ref }

func (o *testOwner) FileBankruptcy(reason string) {
	o.reasons = append(o.reasons, reason)
}

func newOwner(name string) *testOwner {
	return &testOwner{ref: model.AgentRef{Name: name, Class: "Household"}}
}

type posting struct {
	subject string
	agent   model.AgentRef
	amount  decimal.Decimal
}

// recordingPoster implements StockPoster.
type recordingPoster struct {
	posts []posting
}

func (p *recordingPoster) PostStock(subject string, agent model.AgentRef, amount decimal.Decimal) {
	p.posts = append(p.posts, posting{subject: subject, agent: agent, amount: amount})
}

func (p *recordingPoster) sum() decimal.Decimal {
	total := decimal.Zero
	for _, post := range p.posts {
		total = total.Add(post.amount)
	}
	return total
}

func mustChange(t *testing.T, s *Sheet, name string, col model.Column, delta string) {
	t.Helper()
	require.NoError(t, s.ChangeItem(name, col, dec(delta), false))
}

func TestNewSheetIsEngagedAndEmpty(t *testing.T) {
	s := New(newOwner("A"))
	assert.True(t, s.Engaged())
	assert.False(t, s.Bankrupt())
	assert.Empty(t, s.Items())
	assert.True(t, s.NetWorth().IsZero())
	assert.True(t, s.Balance("Cash", model.Assets).IsZero())
}

func TestEndowedAgentBalances(t *testing.T) {
	owner := newOwner("A")
	s := New(owner)

	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "10")
	mustChange(t, s, "Equity", model.Equity, "10")
	out, err := s.Engage()
	require.NoError(t, err)

	assert.False(t, out.Bankrupt())
	assert.True(t, s.TotalAssets().Equal(dec("10")))
	assert.True(t, s.NetWorth().Equal(dec("10")))
	assert.True(t, s.TotalLiabilities().IsZero())
	assert.Empty(t, owner.reasons)
}

func TestChangeItem_EngagedSheetRejected(t *testing.T) {
	s := New(newOwner("A"))

	err := s.ChangeItem("Cash", model.Assets, dec("5"), false)
	require.ErrorIs(t, err, ErrEngaged)
	assert.Empty(t, s.Items(), "state must be untouched")
	assert.True(t, s.TotalAssets().IsZero())
}

func TestChangeItem_ZeroDeltaIsNoop(t *testing.T) {
	poster := &recordingPoster{}
	s := New(newOwner("A"), WithFlows(poster))

	// Zero deltas are accepted even on an engaged sheet.
	require.NoError(t, s.ChangeItem("Cash", model.Assets, decimal.Zero, false))

	s.Disengage()
	require.NoError(t, s.ChangeItem("Cash", model.Assets, decimal.Zero, false))
	assert.Empty(t, s.Items(), "zero delta must not create a row")
	assert.Empty(t, poster.posts)
}

func TestChangeItem_CashAsEquityRejected(t *testing.T) {
	s := New(newOwner("A"))
	s.Disengage()

	err := s.ChangeItem("Cash", model.Equity, dec("1"), false)
	require.ErrorIs(t, err, ErrCashAsEquity)
	assert.True(t, s.NetWorth().IsZero())
}

func TestChangeItem_ReservedAndUnknown(t *testing.T) {
	s := New(nil)
	s.Disengage()

	require.ErrorIs(t, s.ChangeItem(model.TotalRow, model.Assets, dec("1"), false), ErrReservedItem)
	require.ErrorIs(t, s.ChangeItem("Cash", model.Column(9), dec("1"), false), ErrUnknownColumn)
}

func TestChangeItem_StockPostings(t *testing.T) {
	owner := newOwner("A")
	poster := &recordingPoster{}
	s := New(owner, WithFlows(poster))
	s.Disengage()

	mustChange(t, s, "Cash", model.Assets, "10")
	mustChange(t, s, "Loan", model.Liabilities, "4")
	mustChange(t, s, "Equity", model.Equity, "6")
	require.NoError(t, s.ChangeItem("Deposits", model.Assets, dec("3"), true))

	require.Len(t, poster.posts, 2, "equity and suppressed changes never post")
	assert.Equal(t, "ΔCash", poster.posts[0].subject)
	assert.Equal(t, owner.ref, poster.posts[0].agent)
	assert.True(t, poster.posts[0].amount.Equal(dec("-10")), "asset growth is a use of funds")
	assert.Equal(t, "ΔLoan", poster.posts[1].subject)
	assert.True(t, poster.posts[1].amount.Equal(dec("4")), "liability growth is a source of funds")
}

func TestChangeItem_AddThenSubtractRestores(t *testing.T) {
	poster := &recordingPoster{}
	s := New(newOwner("A"), WithFlows(poster))
	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "7")
	before := s.Item("Cash")

	mustChange(t, s, "Cash", model.Assets, "2.5")
	mustChange(t, s, "Cash", model.Assets, "-2.5")

	assert.Equal(t, before.Assets.String(), s.Item("Cash").Assets.String())
	require.Len(t, poster.posts, 3)
	assert.True(t, poster.posts[1].amount.Add(poster.posts[2].amount).IsZero())
}

func TestChangeItem_AddThenSubtractCancelsInFlowLedger(t *testing.T) {
	ledger := flow.New()
	s := New(newOwner("A"), WithFlows(ledger))
	s.Disengage()

	mustChange(t, s, "Cash", model.Assets, "2.5")
	mustChange(t, s, "Cash", model.Assets, "-2.5")
	mustChange(t, s, "Loan", model.Liabilities, "0.3")
	mustChange(t, s, "Loan", model.Liabilities, "-0.3")

	assert.Len(t, ledger.Postings(), 4)
	assert.True(t, ledger.Amount(model.Capital, "ΔCash", s.OwnerRef()).IsZero())
	assert.NoError(t, ledger.CheckConsistency())
}

func TestEngage_NegativeAssetsBankruptsOnce(t *testing.T) {
	owner := newOwner("A")
	s := New(owner)

	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "-100")
	out, err := s.Engage()
	require.NoError(t, err)

	require.True(t, out.Bankrupt())
	assert.True(t, s.Bankrupt())
	assert.Equal(t, ReasonNegativeAssets, out.Event.Reason)
	assert.Equal(t, "Cash", out.Event.Violation.Item)
	assert.Equal(t, 1, out.Event.Violation.Invariant)
	assert.Contains(t, out.Event.Dump, "Cash")
	assert.Equal(t, []string{ReasonNegativeAssets}, owner.reasons)

	// A second violation on a bankrupt sheet is a no-op.
	out, err = s.Engage()
	require.NoError(t, err)
	assert.False(t, out.Bankrupt())
	assert.Len(t, owner.reasons, 1)
}

func TestEngage_NegativeLiabilitiesCountAsNegativeAssets(t *testing.T) {
	owner := newOwner("A")
	s := New(owner)
	s.Disengage()
	mustChange(t, s, "Loan", model.Liabilities, "-3")
	mustChange(t, s, "Equity", model.Equity, "3")

	out, err := s.Engage()
	require.NoError(t, err)
	require.True(t, out.Bankrupt())
	assert.Equal(t, ReasonNegativeAssets, out.Event.Reason)
}

func TestEngage_EquityBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		equity   string
		bankrupt bool
	}{
		{"zero equity", "0", false},
		{"half epsilon below zero", "-0.0000005", false},
		{"one unit below zero", "-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner := newOwner("A")
			s := New(owner)
			s.Disengage()
			// Equity below zero is funded by a liability so the equation holds.
			mustChange(t, s, "Equity", model.Equity, tt.equity)
			require.NoError(t, s.ChangeItem("Loan", model.Liabilities, dec(tt.equity).Neg(), false))

			out, err := s.Engage()
			require.NoError(t, err)
			assert.Equal(t, tt.bankrupt, out.Bankrupt())
			assert.Equal(t, tt.bankrupt, s.Bankrupt())

			// Engaging again without an intervening disengage raises nothing new.
			out, err = s.Engage()
			require.NoError(t, err)
			assert.False(t, out.Bankrupt())

			if tt.bankrupt {
				assert.Equal(t, []string{ReasonNegativeEquity}, owner.reasons)
			} else {
				assert.Empty(t, owner.reasons)
			}
		})
	}
}

func TestEngage_BrokenEquationIsStructural(t *testing.T) {
	owner := newOwner("A")
	s := New(owner)
	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "10")

	out, err := s.Engage()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupted)

	var serr *StructuralError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 2, serr.Violation.Invariant)
	assert.True(t, serr.Deviation.Equal(dec("10")))
	assert.Contains(t, serr.Error(), "BALANCE SHEET OF A")
	assert.False(t, out.Bankrupt())
	assert.False(t, s.Bankrupt(), "a corrupted ledger is not an economic event")
	assert.Empty(t, owner.reasons)
}

func TestEngage_Tolerance(t *testing.T) {
	tests := []struct {
		name   string
		assets string
		equity string
		ok     bool
	}{
		{"exact", "100", "100", true},
		{"within absolute epsilon", "0.0000005", "0", true},
		{"within relative epsilon", "1000000000", "999999999.5", true},
		{"outside both", "100", "99.99", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil)
			s.Disengage()
			mustChange(t, s, "Cash", model.Assets, tt.assets)
			mustChange(t, s, "Equity", model.Equity, tt.equity)
			_, err := s.Engage()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrCorrupted)
			}
		})
	}
}

func TestEngage_BalancedMutationsKeepEquation(t *testing.T) {
	s := New(newOwner("A"))
	s.Disengage()
	steps := []struct {
		name  string
		col   model.Column
		delta string
	}{
		{"Cash", model.Assets, "100"},
		{"Equity", model.Equity, "100"},
		{"Loan", model.Liabilities, "40"},
		{"Cash", model.Assets, "40"},
		{"Capital", model.Assets, "30"},
		{"Cash", model.Assets, "-30"},
		{"Cash", model.Assets, "0.1"},
		{"Equity", model.Equity, "0.1"},
	}
	for _, st := range steps {
		mustChange(t, s, st.name, st.col, st.delta)
	}

	out, err := s.Engage()
	require.NoError(t, err)
	assert.False(t, out.Bankrupt())
	total := s.Total()
	assert.True(t, total.Assets.Equal(total.Equity.Add(total.Liabilities)))
	assert.True(t, s.Balance("Cash", model.Assets).Equal(dec("110.1")))
}

func TestRestoreAfterBankruptcy(t *testing.T) {
	owner := newOwner("A")
	s := New(owner)
	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "-1")
	_, err := s.Engage()
	require.NoError(t, err)
	require.True(t, s.Bankrupt())

	s.RestoreAfterBankruptcy()
	assert.False(t, s.Bankrupt())

	// The latch can be raised again once restored.
	out, err := s.Engage()
	require.NoError(t, err)
	assert.True(t, out.Bankrupt())
	assert.Len(t, owner.reasons, 2)
}

func TestBankruptSheetCanStillBeBracketed(t *testing.T) {
	s := New(newOwner("A"))
	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "-1")
	_, err := s.Engage()
	require.NoError(t, err)

	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "1")
	out, err := s.Engage()
	require.NoError(t, err)
	assert.False(t, out.Bankrupt())
	assert.True(t, s.Bankrupt(), "latch stays until restored")
}

func TestLeverage(t *testing.T) {
	s := New(nil)
	assert.True(t, math.IsInf(s.Leverage(), 1), "empty sheet has infinite leverage")

	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "100")
	mustChange(t, s, "Equity", model.Equity, "75")
	mustChange(t, s, "Loan", model.Liabilities, "25")
	assert.InDelta(t, 0.25, s.Leverage(), 1e-12)

	// Negative leverage is clamped.
	s2 := New(nil)
	s2.Disengage()
	mustChange(t, s2, "Equity", model.Equity, "10")
	mustChange(t, s2, "Loan", model.Liabilities, "-2")
	assert.Equal(t, 0.0, s2.Leverage())
}

func TestDepreciate(t *testing.T) {
	s := New(nil)
	s.Disengage()
	mustChange(t, s, "Machines", model.Assets, "200")
	mustChange(t, s, "Machines", model.Equity, "200")
	mustChange(t, s, "Cash", model.Assets, "50")
	mustChange(t, s, "Equity", model.Equity, "50")

	require.NoError(t, s.Depreciate(map[string]decimal.Decimal{
		"Machines": dec("0.1"),
		"Unknown":  dec("0.5"),
	}))
	_, err := s.Engage()
	require.NoError(t, err)

	assert.True(t, s.Balance("Machines", model.Assets).Equal(dec("180")))
	assert.True(t, s.Balance("Machines", model.Equity).Equal(dec("180")))
	assert.True(t, s.TotalAssets().Equal(dec("230")))

	require.ErrorIs(t, s.Depreciate(nil), ErrEngaged)
}

func TestTableAndCSV(t *testing.T) {
	s := New(newOwner("Firm__00001"))
	s.Disengage()
	mustChange(t, s, "Cash", model.Assets, "10")
	mustChange(t, s, "Equity", model.Equity, "10")
	_, err := s.Engage()
	require.NoError(t, err)

	table := s.Table()
	require.Len(t, table, 4)
	assert.Equal(t, Header, table[0])
	assert.Equal(t, []string{"Cash", "10", Placeholder, Placeholder}, table[1])
	assert.Equal(t, []string{model.TotalRow, "10", "10", Placeholder}, table[3])

	dump := s.String()
	assert.True(t, strings.HasPrefix(dump, "BALANCE SHEET OF Firm__00001"))
	assert.Contains(t, dump, Placeholder)

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))
	assert.Equal(t, "Item,Assets,Equity,Liabilities\nCash,10,,\nEquity,,10,\nTotal,10,10,\n", buf.String())
}
