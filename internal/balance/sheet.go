// Package balance implements an agent's balance sheet: a ledger entry
// store that may only be mutated while disengaged and that validates the
// bookkeeping invariants every time it is engaged again.
package balance

import (
	"errors"
	"io"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/model"
)

// StockPrefix is prepended to an item name to form the subject of its
// implicit capital-account posting ("ΔCash").
const StockPrefix = "Δ"

// DefaultEpsilon is the tolerance used by the consistency validator.
var DefaultEpsilon = decimal.New(1, -6)

var (
	// ErrEngaged is returned when mutating a sheet that is not disengaged.
	ErrEngaged = errors.New("cannot change item in engaged balance sheet: disengage first")
	// ErrCashAsEquity is returned when "Cash" is written to the equity column.
	ErrCashAsEquity = errors.New("cash cannot be equity")
	// ErrReservedItem is returned when writing to the reserved Total row.
	ErrReservedItem = errors.New("item name is reserved")
	// ErrUnknownColumn is returned for a column outside Assets/Equity/Liabilities.
	ErrUnknownColumn = errors.New("unknown balance sheet column")
)

// Owner is the agent a balance sheet belongs to.
type Owner interface {
	Ref() model.AgentRef
}

// BankruptcyHandler is implemented by owners that want to be told,
// synchronously, when their sheet raises the bankruptcy latch.
type BankruptcyHandler interface {
	FileBankruptcy(reason string)
}

// StockPoster receives the implicit Δstock postings of a sheet.
type StockPoster interface {
	PostStock(subject string, agent model.AgentRef, amount decimal.Decimal)
}

// Entry is one row of the sheet. Zero value is an all-zero row.
type Entry struct {
	Assets      decimal.Decimal
	Equity      decimal.Decimal
	Liabilities decimal.Decimal
}

// Get returns the value of one column.
func (e Entry) Get(col model.Column) decimal.Decimal {
	switch col {
	case model.Assets:
		return e.Assets
	case model.Equity:
		return e.Equity
	case model.Liabilities:
		return e.Liabilities
	}
	return decimal.Zero
}

func (e *Entry) add(col model.Column, delta decimal.Decimal) {
	switch col {
	case model.Assets:
		e.Assets = e.Assets.Add(delta)
	case model.Equity:
		e.Equity = e.Equity.Add(delta)
	case model.Liabilities:
		e.Liabilities = e.Liabilities.Add(delta)
	}
}

// Sheet is a per-agent balance sheet. It is not safe for concurrent use.
type Sheet struct {
	owner    Owner
	flows    StockPoster
	eps      decimal.Decimal
	logger   *slog.Logger
	rows     map[string]*Entry
	order    []string
	total    Entry
	engaged  bool
	bankrupt bool
	open     *Update
}

// Option configures a Sheet.
type Option func(*Sheet)

// WithFlows routes the sheet's implicit Δstock postings to p.
func WithFlows(p StockPoster) Option {
	return func(s *Sheet) { s.flows = p }
}

// WithEpsilon overrides DefaultEpsilon.
func WithEpsilon(eps decimal.Decimal) Option {
	return func(s *Sheet) { s.eps = eps.Abs() }
}

// WithLogger sets the logger used for bankruptcy diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sheet) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an engaged, all-zero balance sheet. owner may be nil for a
// standalone sheet.
func New(owner Owner, opts ...Option) *Sheet {
	s := &Sheet{
		owner:   owner,
		eps:     DefaultEpsilon,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		rows:    make(map[string]*Entry),
		engaged: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OwnerRef returns the owner's identity, or the zero AgentRef for a
// standalone sheet.
func (s *Sheet) OwnerRef() model.AgentRef {
	if s.owner == nil {
		return model.AgentRef{}
	}
	return s.owner.Ref()
}

func (s *Sheet) ownerName() string {
	if s.owner == nil {
		return "standalone"
	}
	return s.owner.Ref().Name
}

// Engaged reports whether validation is active.
func (s *Sheet) Engaged() bool { return s.engaged }

// Bankrupt reports whether the bankruptcy latch is raised.
func (s *Sheet) Bankrupt() bool { return s.bankrupt }

// Disengage suspends validation so the sheet can be mutated.
func (s *Sheet) Disengage() {
	s.engaged = false
}

// RestoreAfterBankruptcy clears the bankruptcy latch, e.g. when a failed
// agent is replaced by a new entrant.
func (s *Sheet) RestoreAfterBankruptcy() {
	if s.bankrupt {
		s.logger.Info("balance sheet restored after bankruptcy", "agent", s.ownerName())
	}
	s.bankrupt = false
}

// ChangeItem adds delta to one column of the named item. The sheet must be
// disengaged. Unless suppressStock is set, asset and liability changes are
// mirrored into the flow ledger's capital account under "Δ"+name: an asset
// increase is a use of funds (negative), a liability increase a source
// (positive). Equity changes never post.
func (s *Sheet) ChangeItem(name string, col model.Column, delta decimal.Decimal, suppressStock bool) error {
	if delta.IsZero() {
		return nil
	}
	if s.engaged {
		return ErrEngaged
	}
	if !col.Valid() {
		return ErrUnknownColumn
	}
	if name == model.TotalRow {
		return ErrReservedItem
	}
	if col == model.Equity && name == "Cash" {
		return ErrCashAsEquity
	}

	s.row(name).add(col, delta)
	s.total.add(col, delta)

	if suppressStock || s.flows == nil {
		return nil
	}
	switch col {
	case model.Assets:
		s.flows.PostStock(StockPrefix+name, s.OwnerRef(), delta.Neg())
	case model.Liabilities:
		s.flows.PostStock(StockPrefix+name, s.OwnerRef(), delta)
	}
	return nil
}

func (s *Sheet) row(name string) *Entry {
	e, ok := s.rows[name]
	if !ok {
		e = &Entry{}
		s.rows[name] = e
		s.order = append(s.order, name)
	}
	return e
}

// Depreciate writes down every item that has a rate: equity·rate is taken
// off both the item's equity and its assets. No stock posting is made.
func (s *Sheet) Depreciate(rates map[string]decimal.Decimal) error {
	if s.engaged {
		return ErrEngaged
	}
	for _, name := range s.order {
		rate, ok := rates[name]
		if !ok {
			continue
		}
		e := s.rows[name]
		q := e.Equity.Mul(rate)
		if q.IsZero() {
			continue
		}
		e.Equity = e.Equity.Sub(q)
		e.Assets = e.Assets.Sub(q)
		s.total.Equity = s.total.Equity.Sub(q)
		s.total.Assets = s.total.Assets.Sub(q)
	}
	return nil
}

// Balance returns one column of an item; never-written items are zero.
func (s *Sheet) Balance(name string, col model.Column) decimal.Decimal {
	if name == model.TotalRow {
		return s.total.Get(col)
	}
	e, ok := s.rows[name]
	if !ok {
		return decimal.Zero
	}
	return e.Get(col)
}

// Item returns a copy of the named row.
func (s *Sheet) Item(name string) Entry {
	if name == model.TotalRow {
		return s.total
	}
	if e, ok := s.rows[name]; ok {
		return *e
	}
	return Entry{}
}

// Items returns item names in creation order. Total is not included.
func (s *Sheet) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Total returns a copy of the aggregate row.
func (s *Sheet) Total() Entry { return s.total }

// NetWorth is the total of the equity column.
func (s *Sheet) NetWorth() decimal.Decimal { return s.total.Equity }

// TotalAssets is the total of the assets column.
func (s *Sheet) TotalAssets() decimal.Decimal { return s.total.Assets }

// TotalLiabilities is the total of the liabilities column.
func (s *Sheet) TotalLiabilities() decimal.Decimal { return s.total.Liabilities }

// Leverage is liabilities / (equity + liabilities), +Inf when both are
// zero and never negative.
func (s *Sheet) Leverage() float64 {
	e := s.NetWorth()
	l := s.TotalLiabilities()
	denom := e.Add(l)
	if denom.IsZero() {
		return math.Inf(1)
	}
	lev := l.Div(denom).InexactFloat64()
	return math.Max(0, lev)
}
