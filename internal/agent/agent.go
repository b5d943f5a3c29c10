// Package agent ties a participant's identity to its balance sheet,
// income statement and cash-flow statement, and keeps the registry of
// all agents in a run.
package agent

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/balance"
	"github.com/stockflow-dev/stockflow/internal/flow"
	"github.com/stockflow-dev/stockflow/internal/metrics"
	"github.com/stockflow-dev/stockflow/internal/model"
	"github.com/stockflow-dev/stockflow/internal/statements"
)

// CashItem and EquityItem are the standard balance sheet rows used by
// endowments and transfers.
const (
	CashItem   = "Cash"
	EquityItem = "Equity"
)

// Errors returned by Transfer for unusable arguments.
var (
	ErrNonPositiveQuantity = errors.New("transfer quantity must be positive")
	ErrSelfTransfer        = errors.New("transfer between an agent and itself")
)

// Agent is one participant of the simulation.
type Agent struct {
	ref      model.AgentRef
	alias    string
	sheet    *balance.Sheet
	income   *statements.IncomeStatement
	cashflow *statements.CashFlowStatement

	bankrupt bool
	reason   string

	logger       *slog.Logger
	metrics      *metrics.Metrics
	onBankruptcy func(*Agent, string)
}

type settings struct {
	alias        string
	ledger       *flow.Ledger
	epsilon      *decimal.Decimal
	logger       *slog.Logger
	metrics      *metrics.Metrics
	onBankruptcy func(*Agent, string)
}

// Option configures an Agent at registration.
type Option func(*settings)

// WithAlias sets a (possibly non-unique) display name.
func WithAlias(alias string) Option {
	return func(s *settings) { s.alias = alias }
}

// WithLedger connects the agent's balance sheet to the run's flow ledger.
func WithLedger(l *flow.Ledger) Option {
	return func(s *settings) { s.ledger = l }
}

// WithEpsilon sets the balance sheet tolerance.
func WithEpsilon(eps decimal.Decimal) Option {
	return func(s *settings) { s.epsilon = &eps }
}

// WithLogger sets the logger for the agent and its balance sheet.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics records the agent's bankruptcies on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// OnBankruptcy registers a hook called once each time the agent files
// for bankruptcy.
func OnBankruptcy(fn func(a *Agent, reason string)) Option {
	return func(s *settings) { s.onBankruptcy = fn }
}

func newAgent(ref model.AgentRef, opts ...Option) *Agent {
	var st settings
	for _, opt := range opts {
		opt(&st)
	}
	logger := st.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	a := &Agent{
		ref:          ref,
		alias:        st.alias,
		income:       statements.NewIncomeStatement(),
		cashflow:     statements.NewCashFlowStatement(),
		logger:       logger.With("agent", ref.Name),
		metrics:      st.metrics,
		onBankruptcy: st.onBankruptcy,
	}
	if a.alias == "" {
		a.alias = ref.Name
	}

	sheetOpts := []balance.Option{balance.WithLogger(logger)}
	if st.ledger != nil {
		sheetOpts = append(sheetOpts, balance.WithFlows(st.ledger))
	}
	if st.epsilon != nil {
		sheetOpts = append(sheetOpts, balance.WithEpsilon(*st.epsilon))
	}
	a.sheet = balance.New(a, sheetOpts...)
	return a
}

// Ref returns the agent's ledger identity.
func (a *Agent) Ref() model.AgentRef { return a.ref }

// Name returns the unique registry name, e.g. "Household__00001".
func (a *Agent) Name() string { return a.ref.Name }

// Class returns the agent's class.
func (a *Agent) Class() string { return a.ref.Class }

// Alias returns the display name; it defaults to Name.
func (a *Agent) Alias() string { return a.alias }

func (a *Agent) String() string {
	if a.alias != a.ref.Name {
		return fmt.Sprintf("%s (%s)", a.ref.Name, a.alias)
	}
	return a.ref.Name
}

// Sheet returns the agent's balance sheet.
func (a *Agent) Sheet() *balance.Sheet { return a.sheet }

// Income returns the current period's income statement.
func (a *Agent) Income() *statements.IncomeStatement { return a.income }

// CashFlow returns the current period's cash-flow statement.
func (a *Agent) CashFlow() *statements.CashFlowStatement { return a.cashflow }

// CashBalance returns the asset side of the Cash item.
func (a *Agent) CashBalance() decimal.Decimal {
	return a.sheet.Balance(CashItem, model.Assets)
}

// FileBankruptcy marks the agent bankrupt. Balance sheets call it when
// validation raises the latch.
func (a *Agent) FileBankruptcy(reason string) {
	a.bankrupt = true
	a.reason = reason
	a.logger.Warn("agent filed bankruptcy", "reason", reason)
	a.metrics.Bankruptcy(reason)
	if a.onBankruptcy != nil {
		a.onBankruptcy(a, reason)
	}
}

// Bankrupt reports whether the agent has filed bankruptcy.
func (a *Agent) Bankrupt() bool { return a.bankrupt }

// BankruptcyReason returns the reason of the last filing.
func (a *Agent) BankruptcyReason() string { return a.reason }

// Restore clears the agent's bankruptcy flag and its sheet's latch.
func (a *Agent) Restore() {
	a.sheet.RestoreAfterBankruptcy()
	a.bankrupt = false
	a.reason = ""
}

// Act runs fn unless the agent is bankrupt, in which case the action is
// skipped with a warning. It reports whether fn ran.
func (a *Agent) Act(name string, fn func() error) (bool, error) {
	if a.bankrupt {
		a.logger.Warn("skipped action of bankrupt agent", "action", name)
		return false, nil
	}
	if err := fn(); err != nil {
		return true, fmt.Errorf("%s: %s: %w", a.ref.Name, name, err)
	}
	return true, nil
}

// Endow books each item as an asset without posting to the flow ledger,
// then validates the sheet. The counterpart is equity on the item's own
// row, except for Cash whose counterpart goes to the Equity item.
func (a *Agent) Endow(items map[string]decimal.Decimal) (balance.Outcome, error) {
	u, err := a.sheet.Begin()
	if err != nil {
		return balance.Outcome{}, err
	}
	var errs []error
	for _, name := range sortedKeys(items) {
		v := items[name]
		counterpart := name
		if name == CashItem {
			counterpart = EquityItem
		}
		errs = append(errs,
			u.ChangeItem(name, model.Assets, v, true),
			u.ChangeItem(counterpart, model.Equity, v, true),
		)
	}
	out, err := u.Close()
	return out, errors.Join(append(errs, err)...)
}

// Depreciate writes down the agent's items by rate, keyed by item name.
func (a *Agent) Depreciate(rates map[string]decimal.Decimal) (balance.Outcome, error) {
	u, err := a.sheet.Begin()
	if err != nil {
		return balance.Outcome{}, err
	}
	derr := a.sheet.Depreciate(rates)
	out, err := u.Close()
	return out, errors.Join(derr, err)
}

// Transfer moves q units of cash from one agent to another: both sheets
// are bracketed, Cash and Equity change on each side, and the flow is
// logged under subject.
func Transfer(ledger *flow.Ledger, f model.Flow, from, to *Agent, subject string, q decimal.Decimal) (balance.Outcomes, error) {
	if !q.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrNonPositiveQuantity, q)
	}
	if from == to {
		return nil, ErrSelfTransfer
	}

	outs, err := balance.Modify(func() error {
		return errors.Join(
			from.sheet.ChangeItem(CashItem, model.Assets, q.Neg(), false),
			from.sheet.ChangeItem(EquityItem, model.Equity, q.Neg(), false),
			to.sheet.ChangeItem(CashItem, model.Assets, q, false),
			to.sheet.ChangeItem(EquityItem, model.Equity, q, false),
		)
	}, from.sheet, to.sheet)
	if err != nil {
		return outs, fmt.Errorf("transfer %s from %s to %s: %w", subject, from.Name(), to.Name(), err)
	}

	if err := ledger.LogFlow(f, q, from.ref, to.ref, subject); err != nil {
		return outs, fmt.Errorf("logging flow %s: %w", subject, err)
	}
	return outs, nil
}
