// Package flow implements the run-wide flow ledger: a signed table of
// amounts keyed by account kind, subject and agent that audits the
// stock-flow conservation law across all agents.
package flow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/id"
	"github.com/stockflow-dev/stockflow/internal/metrics"
	"github.com/stockflow-dev/stockflow/internal/model"
)

// ErrUnknownKind is returned for an account kind other than Current or Capital.
var ErrUnknownKind = errors.New("unknown account kind")

type table map[string]map[model.AgentRef]decimal.Decimal

// Ledger is one simulation run's flow ledger. Create one per run, thread
// it through the simulation, and Reset it once per period. It is not safe
// for concurrent use.
type Ledger struct {
	tables  map[model.AccountKind]table
	log     []model.Posting
	period  int
	seq     int
	resets  int
	logger  *slog.Logger
	metrics *metrics.Metrics

	classSize func(class string) int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for reset warnings.
func WithLogger(l *slog.Logger) Option {
	return func(fl *Ledger) {
		if l != nil {
			fl.logger = l
		}
	}
}

// WithMetrics records ledger activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(fl *Ledger) { fl.metrics = m }
}

// WithClassSizes reports how many agents each class has, so grouped
// labels follow the population rather than who posted this period.
func WithClassSizes(size func(class string) int) Option {
	return func(fl *Ledger) { fl.classSize = size }
}

// New returns an empty ledger. Construction is not a reset.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.wipe()
	return l
}

func (l *Ledger) wipe() {
	l.tables = map[model.AccountKind]table{
		model.Current: {},
		model.Capital: {},
	}
	l.log = nil
	l.seq = 0
}

// Reset wipes both account tables and the posting log. The first reset
// of a ledger is silent; every later one logs a warning so a double reset
// inside a step loop does not go unnoticed.
func (l *Ledger) Reset() {
	l.wipe()
	l.resets++
	l.metrics.Reset()
	if l.resets > 1 {
		l.logger.Warn("flow ledger has been reset", "resets", l.resets, "period", l.period)
	}
}

// Resets returns how many times Reset has been called.
func (l *Ledger) Resets() int { return l.resets }

// SetPeriod stamps subsequent postings with period p.
func (l *Ledger) SetPeriod(p int) { l.period = p }

// Period returns the period postings are stamped with.
func (l *Ledger) Period() int { return l.period }

type flowOptions struct {
	price  *decimal.Decimal
	invert bool
}

// FlowOption adjusts the amount of a logged flow.
type FlowOption func(*flowOptions)

// WithPrice multiplies the quantity by price.
func WithPrice(price decimal.Decimal) FlowOption {
	return func(o *flowOptions) { o.price = &price }
}

// Inverted reverses the sign of the flow.
func Inverted() FlowOption {
	return func(o *flowOptions) { o.invert = true }
}

// LogFlow records a transfer of quantity (times price, if given) from one
// agent's account to another's: the amount is subtracted from
// flow.From[subject][from] and added to flow.To[subject][to].
func (l *Ledger) LogFlow(f model.Flow, quantity decimal.Decimal, from, to model.AgentRef, subject string, opts ...FlowOption) error {
	src, ok := l.tables[f.From]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownKind, f.From)
	}
	dst, ok := l.tables[f.To]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownKind, f.To)
	}

	var o flowOptions
	for _, opt := range opts {
		opt(&o)
	}
	q := quantity
	if o.price != nil {
		q = q.Mul(*o.price)
	}
	if o.invert {
		q = q.Neg()
	}

	src.add(subject, from, q.Neg())
	dst.add(subject, to, q)

	entryID := l.nextEntryID()
	l.log = append(l.log,
		model.Posting{EntryID: id.FormatLegID(entryID, 0), Period: l.period, Kind: f.From, Subject: subject, Agent: from, Amount: q.Neg(), Source: model.SourceFlow},
		model.Posting{EntryID: id.FormatLegID(entryID, 1), Period: l.period, Kind: f.To, Subject: subject, Agent: to, Amount: q, Source: model.SourceFlow},
	)
	l.metrics.FlowLogged(f.From, f.To)
	return nil
}

// PostStock records an implicit capital-account posting made by a balance
// sheet when one of its asset or liability items changes.
func (l *Ledger) PostStock(subject string, agent model.AgentRef, amount decimal.Decimal) {
	l.tables[model.Capital].add(subject, agent, amount)
	l.log = append(l.log, model.Posting{
		EntryID: l.nextEntryID(),
		Period:  l.period,
		Kind:    model.Capital,
		Subject: subject,
		Agent:   agent,
		Amount:  amount,
		Source:  model.SourceStock,
	})
	l.metrics.StockPosted()
}

func (l *Ledger) nextEntryID() string {
	l.seq++
	return id.FormatEntryID(l.period, l.seq)
}

func (t table) add(subject string, agent model.AgentRef, amount decimal.Decimal) {
	row, ok := t[subject]
	if !ok {
		row = make(map[model.AgentRef]decimal.Decimal)
		t[subject] = row
	}
	row[agent] = row[agent].Add(amount)
}

// Amount returns the accumulated amount of one cell.
func (l *Ledger) Amount(kind model.AccountKind, subject string, agent model.AgentRef) decimal.Decimal {
	t, ok := l.tables[kind]
	if !ok {
		return decimal.Zero
	}
	return t[subject][agent]
}

// Subjects returns every subject with at least one posting, sorted.
func (l *Ledger) Subjects() []string {
	seen := make(map[string]struct{})
	for _, t := range l.tables {
		for s := range t {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Agents returns every agent with at least one posting, sorted by name.
func (l *Ledger) Agents() []model.AgentRef {
	seen := make(map[model.AgentRef]struct{})
	for _, t := range l.tables {
		for _, row := range t {
			for a := range row {
				seen[a] = struct{}{}
			}
		}
	}
	out := make([]model.AgentRef, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// Postings returns a copy of the linear posting log for the current period.
func (l *Ledger) Postings() []model.Posting {
	out := make([]model.Posting, len(l.log))
	copy(out, l.log)
	return out
}
