// Package sim drives a scenario period by period: depreciation, scripted
// transfers, bankruptcy policy, the global consistency check and period
// recording.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/agent"
	"github.com/stockflow-dev/stockflow/internal/archive"
	"github.com/stockflow-dev/stockflow/internal/balance"
	"github.com/stockflow-dev/stockflow/internal/config"
	"github.com/stockflow-dev/stockflow/internal/eventlog"
	"github.com/stockflow-dev/stockflow/internal/flow"
	"github.com/stockflow-dev/stockflow/internal/journal"
	"github.com/stockflow-dev/stockflow/internal/metrics"
)

// BankruptcyError is returned by Run under the halt policy.
type BankruptcyError struct {
	Period int
	Event  balance.BankruptcyEvent
}

func (e *BankruptcyError) Error() string {
	return fmt.Sprintf("period %d: %s filed bankruptcy (%s)", e.Period, e.Event.Owner.Name, e.Event.Reason)
}

// Bankruptcy is one bankruptcy observed during a run.
type Bankruptcy struct {
	Period int
	Agent  string
	Reason string
}

// Summary describes a finished (or halted) run.
type Summary struct {
	RunID        string
	Name         string
	Periods      int
	Postings     int
	Bankruptcies []Bankruptcy
	Inactive     []string
	NetWorth     map[string]decimal.Decimal // by class, after the last period
}

// Runner executes one scenario. A Runner is single use.
type Runner struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	journal *journal.Service
	events  string
	archive *archive.Archive
	now     func() time.Time

	ledger   *flow.Ledger
	registry *agent.Registry
	clock    *Clock
	inactive map[*agent.Agent]bool
	runID    string
	evlog    *eventlog.Writer
	summary  *Summary
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger handed to the ledger and every agent.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records run activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithJournal writes each period's postings and reports through svc. The
// journal of any earlier run in the same directory is cleared first.
func WithJournal(svc *journal.Service) Option {
	return func(r *Runner) { r.journal = svc }
}

// WithEventLog appends run events to <dir>/logs/events.csv.
func WithEventLog(dir string) Option {
	return func(r *Runner) { r.events = dir }
}

// WithArchive records the run in a SQLite archive.
func WithArchive(a *archive.Archive) Option {
	return func(r *Runner) { r.archive = a }
}

// WithNow overrides the wall clock used for archive timestamps.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner validates cfg and prepares a run.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	start, err := cfg.StartDate()
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		clock:    NewClock(start, cfg.Simulation.StepMonths),
		inactive: make(map[*agent.Agent]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registry = agent.NewRegistry()
	r.ledger = flow.New(
		flow.WithLogger(r.logger),
		flow.WithMetrics(r.metrics),
		flow.WithClassSizes(r.registry.Count),
	)
	return r, nil
}

// Ledger returns the run's flow ledger.
func (r *Runner) Ledger() *flow.Ledger { return r.ledger }

// Registry returns the run's agents.
func (r *Runner) Registry() *agent.Registry { return r.registry }

// Run executes every period. Under the halt policy the first bankruptcy
// stops the run with a *BankruptcyError; an inconsistent flow table always
// stops it with a *flow.InconsistencyError.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	r.summary = &Summary{Name: r.cfg.Simulation.Name}

	if r.journal != nil {
		if err := r.journal.Clear(); err != nil {
			return nil, err
		}
	}

	r.runID = uuid.NewString()
	if r.archive != nil {
		id, err := r.archive.StartRun(ctx, r.cfg.Simulation.Name, r.now())
		if err != nil {
			return nil, err
		}
		r.runID = id
	}
	r.summary.RunID = r.runID
	if r.events != "" {
		r.evlog = eventlog.NewWriter(r.events, r.runID)
	}
	r.logger.Info("run started", "scenario", r.cfg.Simulation.Name, "periods", r.cfg.Simulation.Periods, "run_id", r.runID)
	if err := r.logEvents(eventlog.Entry{Timestamp: r.clock.Date(), Event: eventlog.EventRunStarted, Details: r.cfg.Simulation.Name}); err != nil {
		return nil, err
	}

	if err := r.populate(); err != nil {
		return r.finish(ctx, archive.StatusFailed, err)
	}

	for r.clock.Period() < r.cfg.Simulation.Periods {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, archive.StatusFailed, err)
		}
		if err := r.step(ctx); err != nil {
			status := archive.StatusFailed
			var be *BankruptcyError
			if errors.As(err, &be) {
				status = archive.StatusHalted
			}
			return r.finish(ctx, status, err)
		}
	}
	return r.finish(ctx, archive.StatusCompleted, nil)
}

func (r *Runner) finish(ctx context.Context, status string, runErr error) (*Summary, error) {
	r.summary.NetWorth = make(map[string]decimal.Decimal)
	for _, a := range r.registry.All() {
		r.summary.NetWorth[a.Class()] = r.summary.NetWorth[a.Class()].Add(a.Sheet().NetWorth())
	}

	var errs []error
	errs = append(errs, runErr)
	if r.archive != nil {
		errs = append(errs, r.archive.FinishRun(context.WithoutCancel(ctx), r.runID, r.summary.Periods, status, r.now()))
	}
	errs = append(errs, r.logEvents(eventlog.Entry{
		Timestamp: r.clock.Date(),
		Period:    r.summary.Periods,
		Event:     eventlog.EventRunFinished,
		Details:   status,
	}))

	if runErr != nil {
		r.logger.Error("run stopped", "status", status, "period", r.summary.Periods+1, "error", runErr)
	} else {
		r.logger.Info("run completed", "periods", r.summary.Periods, "bankruptcies", len(r.summary.Bankruptcies))
	}
	return r.summary, errors.Join(errs...)
}

// populate registers every agent group and books its endowment.
func (r *Runner) populate() error {
	eps := r.cfg.Simulation.Epsilon
	for _, g := range r.cfg.Agents {
		for i := 0; i < g.Count; i++ {
			opts := []agent.Option{
				agent.WithLedger(r.ledger),
				agent.WithLogger(r.logger),
				agent.WithMetrics(r.metrics),
			}
			if eps.IsPositive() {
				opts = append(opts, agent.WithEpsilon(eps))
			}
			a := r.registry.Register(g.Class, opts...)
			if len(g.Endowment) == 0 {
				continue
			}
			if _, err := a.Endow(g.Endowment); err != nil {
				return fmt.Errorf("endowing %s: %w", a.Name(), err)
			}
		}
	}
	return nil
}

func (r *Runner) active(class string) []*agent.Agent {
	var out []*agent.Agent
	for _, a := range r.registry.OfClass(class) {
		if !r.inactive[a] {
			out = append(out, a)
		}
	}
	return out
}

func (r *Runner) step(ctx context.Context) error {
	period := r.clock.Period() + 1
	r.ledger.SetPeriod(period)
	log := r.logger.With("period", period)

	for _, d := range r.cfg.Depreciation {
		rates := map[string]decimal.Decimal{d.Item: d.Rate}
		for _, a := range r.active(d.Class) {
			out, err := a.Depreciate(rates)
			if err != nil {
				return fmt.Errorf("period %d: depreciating %s: %w", period, a.Name(), err)
			}
			if err := r.handle(ctx, period, balance.Outcomes{out}); err != nil {
				return err
			}
		}
	}

	for _, tx := range r.cfg.Transactions {
		if !tx.Due(period) {
			continue
		}
		for _, pair := range r.pairs(tx.From, tx.To) {
			payer, payee := pair[0], pair[1]
			var outs balance.Outcomes
			_, err := payer.Act(tx.Name, func() error {
				var err error
				outs, err = agent.Transfer(r.ledger, tx.Flow, payer, payee, tx.SubjectName(), tx.Quantity)
				if err != nil {
					return err
				}
				return bookStatements(tx, payer, payee)
			})
			if err != nil {
				return fmt.Errorf("period %d: %w", period, err)
			}
			if err := r.handle(ctx, period, outs); err != nil {
				return err
			}
		}
	}

	if err := r.ledger.CheckConsistency(); err != nil {
		return fmt.Errorf("period %d: %w", period, err)
	}

	if err := r.record(ctx, period); err != nil {
		return fmt.Errorf("period %d: %w", period, err)
	}

	for _, a := range r.registry.All() {
		a.Income().Reset()
		a.CashFlow().Reset()
	}
	r.ledger.Reset()
	r.metrics.Period()
	r.summary.Periods = period
	log.Debug("period completed")
	r.clock.Tick()
	return nil
}

// pairs matches the active agents of from with those of to, cycling the
// shorter side so every agent of both classes takes part. Within one class
// each agent pays the next one round robin.
func (r *Runner) pairs(from, to string) [][2]*agent.Agent {
	payers := r.active(from)
	payees := r.active(to)
	if len(payers) == 0 || len(payees) == 0 {
		return nil
	}
	var out [][2]*agent.Agent
	if from == to {
		if len(payers) < 2 {
			return nil
		}
		for i, p := range payers {
			out = append(out, [2]*agent.Agent{p, payers[(i+1)%len(payers)]})
		}
		return out
	}
	n := max(len(payers), len(payees))
	for i := 0; i < n; i++ {
		out = append(out, [2]*agent.Agent{payers[i%len(payers)], payees[i%len(payees)]})
	}
	return out
}

func bookStatements(tx config.TransactionConfig, payer, payee *agent.Agent) error {
	subject := tx.SubjectName()
	q := tx.Quantity
	var errs []error
	if tx.PayerKind != "" {
		errs = append(errs, payer.Income().NewEntry(tx.PayerKind, subject, q))
	}
	if tx.PayeeKind != "" {
		errs = append(errs, payee.Income().NewEntry(tx.PayeeKind, subject, q))
	}
	if tx.CashFlow != "" {
		errs = append(errs,
			payer.CashFlow().NewEntry(tx.CashFlow, subject, q.Neg()),
			payee.CashFlow().NewEntry(tx.CashFlow, subject, q),
		)
	}
	return errors.Join(errs...)
}

// handle applies the bankruptcy policy to every event in outs.
func (r *Runner) handle(ctx context.Context, period int, outs balance.Outcomes) error {
	for _, ev := range outs.Events() {
		r.summary.Bankruptcies = append(r.summary.Bankruptcies, Bankruptcy{Period: period, Agent: ev.Owner.Name, Reason: ev.Reason})
		if r.archive != nil {
			if err := r.archive.RecordBankruptcy(ctx, r.runID, period, ev); err != nil {
				return err
			}
		}
		entries := []eventlog.Entry{{
			Timestamp: r.clock.Date(),
			Period:    period,
			Agent:     ev.Owner.Name,
			Event:     eventlog.EventBankruptcy,
			Details:   ev.Reason,
		}}

		a, ok := r.registry.Find(ev.Owner.Name)
		switch r.cfg.Simulation.Bankruptcy {
		case config.PolicyHalt:
			if err := r.logEvents(entries...); err != nil {
				return err
			}
			return &BankruptcyError{Period: period, Event: ev}
		case config.PolicyContinue:
			if ok {
				r.inactive[a] = true
				r.summary.Inactive = append(r.summary.Inactive, a.Name())
			}
			entries = append(entries, eventlog.Entry{Timestamp: r.clock.Date(), Period: period, Agent: ev.Owner.Name, Event: eventlog.EventDeactivated})
		case config.PolicyRestore:
			if ok {
				a.Restore()
			}
			entries = append(entries, eventlog.Entry{Timestamp: r.clock.Date(), Period: period, Agent: ev.Owner.Name, Event: eventlog.EventRestored})
		}
		if err := r.logEvents(entries...); err != nil {
			return err
		}
	}
	return nil
}

// record writes the period's journal, reports, event and archive rows.
func (r *Runner) record(ctx context.Context, period int) error {
	postings := r.ledger.Postings()
	r.summary.Postings += len(postings)

	if r.journal != nil {
		if err := r.journal.AppendPeriod(period, postings); err != nil {
			return err
		}
		grouped := r.ledger.Table(true)
		if err := r.journal.WriteReport(period, "flows", grouped.WriteCSV); err != nil {
			return err
		}
		for _, a := range r.registry.All() {
			if err := r.journal.WriteReport(period, "sheet-"+a.Name(), a.Sheet().WriteCSV); err != nil {
				return err
			}
		}
	}

	if r.archive != nil {
		sheets := make([]*balance.Sheet, 0, r.registry.Len())
		for _, a := range r.registry.All() {
			sheets = append(sheets, a.Sheet())
		}
		if err := r.archive.RecordPeriod(ctx, r.runID, period, r.ledger.Table(false), sheets); err != nil {
			return err
		}
	}

	return r.logEvents(eventlog.Entry{
		Timestamp: r.clock.Date(),
		Period:    period,
		Event:     eventlog.EventPeriod,
		Details:   fmt.Sprintf("postings=%d", len(postings)),
	})
}

func (r *Runner) logEvents(entries ...eventlog.Entry) error {
	if r.evlog == nil {
		return nil
	}
	return r.evlog.Append(entries...)
}
