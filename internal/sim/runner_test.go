package sim

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow-dev/stockflow/internal/archive"
	"github.com/stockflow-dev/stockflow/internal/balance"
	"github.com/stockflow-dev/stockflow/internal/config"
	"github.com/stockflow-dev/stockflow/internal/eventlog"
	"github.com/stockflow-dev/stockflow/internal/journal"
	"github.com/stockflow-dev/stockflow/internal/model"
	"github.com/stockflow-dev/stockflow/internal/statements"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }

// overdraftScenario has a single household that runs out of cash in period 2.
func overdraftScenario(policy string) *config.Config {
	cfg := config.Default("overdraft")
	cfg.Simulation.Periods = 3
	cfg.Simulation.Bankruptcy = policy
	cfg.Agents = []config.AgentGroup{
		{Class: "Household", Count: 1, Endowment: map[string]decimal.Decimal{"Cash": dec("15")}},
		{Class: "Firm", Count: 1},
	}
	cfg.Transactions = []config.TransactionConfig{{
		Name:     "consumption",
		From:     "Household",
		To:       "Firm",
		Quantity: dec("10"),
		Flow:     model.Between(model.Capital, model.Capital),
	}}
	cfg.Depreciation = nil
	return cfg
}

func TestRunDefaultScenario(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default("baseline")
	cfg.Simulation.Periods = 3

	arc, err := archive.Open(ctx, filepath.Join(dir, "stockflow.db"))
	require.NoError(t, err)
	defer arc.Close()

	svc := journal.NewService(dir)
	r, err := NewRunner(cfg,
		WithJournal(svc),
		WithEventLog(dir),
		WithArchive(arc),
		WithNow(fixedNow),
	)
	require.NoError(t, err)

	sum, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Periods)
	assert.Equal(t, 48, sum.Postings)
	assert.Empty(t, sum.Bankruptcies)
	assert.True(t, dec("188").Equal(sum.NetWorth["Household"]), sum.NetWorth["Household"].String())
	assert.True(t, dec("256.0598").Equal(sum.NetWorth["Firm"]), sum.NetWorth["Firm"].String())

	periods, err := svc.Periods()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, periods)
	for _, p := range periods {
		postings, err := svc.ReadPeriod(p)
		require.NoError(t, err)
		assert.Len(t, postings, 16)
		assert.Empty(t, journal.ValidatePostings(postings, p))
	}

	events, err := eventlog.Read(dir)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, eventlog.EventRunStarted, events[0].Event)
	assert.Len(t, eventlog.Select(events, eventlog.Query{RunID: sum.RunID}), 5)
	assert.Len(t, eventlog.Select(events, eventlog.Query{Event: eventlog.EventPeriod}), 3)
	assert.Equal(t, eventlog.EventRunFinished, events[4].Event)
	assert.Equal(t, archive.StatusCompleted, events[4].Details)
	assert.Equal(t, 2024, events[1].Timestamp.Year())

	runs, err := arc.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].ID)
	assert.Equal(t, archive.StatusCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].Periods)

	total, err := arc.SubjectTotal(ctx, sum.RunID, 2, "consumption")
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	// the ledger is wiped after the last period
	assert.Empty(t, r.Ledger().Postings())

	h, ok := r.Registry().Find("Household__00001")
	require.True(t, ok)
	assert.True(t, dec("10").Equal(h.Income().Last().TotalOf(statements.Expenses)))
	assert.True(t, dec("8").Equal(h.Income().Last().TotalOf(statements.Revenues)))
	assert.True(t, h.Income().GrossIncome().IsZero())
}

func TestRunWarnsOnRepeatedReset(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default("baseline")
	cfg.Simulation.Periods = 2

	r, err := NewRunner(cfg, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Ledger().Resets())
	assert.Contains(t, buf.String(), "flow ledger has been reset")
}

func TestRunHaltPolicy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	arc, err := archive.Open(ctx, filepath.Join(dir, "stockflow.db"))
	require.NoError(t, err)
	defer arc.Close()

	r, err := NewRunner(overdraftScenario(config.PolicyHalt), WithArchive(arc), WithEventLog(dir), WithNow(fixedNow))
	require.NoError(t, err)

	sum, err := r.Run(ctx)
	var be *BankruptcyError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 2, be.Period)
	assert.Equal(t, "Household__00001", be.Event.Owner.Name)
	assert.Equal(t, balance.ReasonNegativeAssets, be.Event.Reason)
	assert.Contains(t, err.Error(), "period 2: Household__00001 filed bankruptcy (negative assets)")

	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Periods)
	require.Len(t, sum.Bankruptcies, 1)

	runs, err := arc.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusHalted, runs[0].Status)
	n, err := arc.Count(ctx, "bankruptcies", sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := eventlog.Read(dir)
	require.NoError(t, err)
	assert.Len(t, eventlog.Select(events, eventlog.Query{Event: eventlog.EventBankruptcy}), 1)
}

func TestRunContinuePolicy(t *testing.T) {
	r, err := NewRunner(overdraftScenario(config.PolicyContinue))
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Periods)
	assert.Equal(t, []Bankruptcy{{Period: 2, Agent: "Household__00001", Reason: balance.ReasonNegativeAssets}}, sum.Bankruptcies)
	assert.Equal(t, []string{"Household__00001"}, sum.Inactive)

	h, _ := r.Registry().Find("Household__00001")
	assert.True(t, h.Bankrupt())
	assert.True(t, dec("-5").Equal(h.CashBalance()))
	assert.True(t, dec("20").Equal(sum.NetWorth["Firm"]))
}

func TestRunRestorePolicy(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRunner(overdraftScenario(config.PolicyRestore), WithEventLog(dir))
	require.NoError(t, err)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Periods)
	require.Len(t, sum.Bankruptcies, 2)
	assert.Equal(t, 3, sum.Bankruptcies[1].Period)
	assert.Empty(t, sum.Inactive)

	h, _ := r.Registry().Find("Household__00001")
	assert.False(t, h.Bankrupt())
	assert.True(t, dec("-15").Equal(h.CashBalance()))

	events, err := eventlog.Read(dir)
	require.NoError(t, err)
	assert.Len(t, eventlog.Select(events, eventlog.Query{Event: eventlog.EventRestored}), 2)
}

func TestRunSameClassRoundRobin(t *testing.T) {
	cfg := overdraftScenario(config.PolicyHalt)
	cfg.Agents[0].Count = 3
	cfg.Agents[0].Endowment["Cash"] = dec("100")
	cfg.Transactions[0].To = "Household"
	cfg.Transactions[0].Flow = model.Between(model.Current, model.Current)

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*3*4, sum.Postings)
	for _, a := range r.Registry().OfClass("Household") {
		assert.True(t, dec("100").Equal(a.CashBalance()))
	}
}

func TestRunEveryNth(t *testing.T) {
	cfg := overdraftScenario(config.PolicyHalt)
	cfg.Simulation.Periods = 4
	cfg.Transactions[0].EveryNth = 2
	cfg.Transactions[0].Quantity = dec("5")

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Postings)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := NewRunner(config.Default("x"))
	require.NoError(t, err)
	sum, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Periods)
}

func TestNewRunnerRejectsInvalidScenario(t *testing.T) {
	cfg := config.Default("x")
	cfg.Simulation.Periods = 0
	_, err := NewRunner(cfg)
	assert.Error(t, err)
}

func TestRunTwiceIntoSameDirectory(t *testing.T) {
	dir := t.TempDir()
	svc := journal.NewService(dir)
	cfg := config.Default("baseline")
	cfg.Simulation.Periods = 2

	var ids []string
	for i := 0; i < 2; i++ {
		r, err := NewRunner(cfg, WithJournal(svc), WithEventLog(dir))
		require.NoError(t, err)
		sum, err := r.Run(context.Background())
		require.NoError(t, err, "run %d", i+1)
		assert.Equal(t, 2, sum.Periods)
		ids = append(ids, sum.RunID)
	}
	require.NotEqual(t, ids[0], ids[1])

	events, err := eventlog.Read(dir)
	require.NoError(t, err)
	assert.Equal(t, ids[1], eventlog.LastRun(events))
	assert.Len(t, eventlog.Select(events, eventlog.Query{RunID: ids[0], Event: eventlog.EventPeriod}), 2)

	periods, err := svc.Periods()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, periods)
	postings, err := svc.ReadPeriod(1)
	require.NoError(t, err)
	assert.Len(t, postings, 16)
	assert.Empty(t, journal.ValidatePostings(postings, 1))
}

func TestRunGroupedLabelsFollowPopulation(t *testing.T) {
	cfg := config.Default("baseline")
	cfg.Simulation.Periods = 1

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	h, _ := r.Registry().Find("Household__00001")
	f, _ := r.Registry().Find("Firm__00001")
	require.NoError(t, r.Ledger().LogFlow(model.Between(model.Capital, model.Capital), dec("1"), h.Ref(), f.Ref(), "gift"))

	tbl := r.Ledger().Table(true)
	require.Len(t, tbl.Columns, 4)
	assert.Equal(t, "Firm", tbl.Columns[0].Label)
	assert.Equal(t, "Households", tbl.Columns[2].Label)
}
