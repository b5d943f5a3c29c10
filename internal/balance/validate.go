package balance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/model"
)

// Bankruptcy reasons passed to the owner and carried in BankruptcyEvent.
const (
	ReasonNegativeAssets = "negative assets"
	ReasonNegativeEquity = "negative equity"
)

// ErrCorrupted is the root of every StructuralError.
var ErrCorrupted = errors.New("balance sheet corrupted")

// ValidationError describes a single invariant violation.
type ValidationError struct {
	Invariant   int
	Item        string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invariant %d [%s]: %s", e.Invariant, e.Item, e.Description)
}

// StructuralError reports a broken bookkeeping equation. It is a model
// bug, not an economic event, and carries the full ledger dump.
type StructuralError struct {
	Owner     model.AgentRef
	Deviation decimal.Decimal
	Violation ValidationError
	Dump      string
}

func (e *StructuralError) Error() string {
	name := e.Owner.Name
	if name == "" {
		name = "standalone"
	}
	return fmt.Sprintf("balance sheet of %s is corrupted after cross-check: deviation %s\n\n%s",
		name, e.Deviation.StringFixed(10), e.Dump)
}

func (e *StructuralError) Unwrap() error { return ErrCorrupted }

// BankruptcyEvent is the payload produced when validation raises the latch.
type BankruptcyEvent struct {
	Owner     model.AgentRef
	Reason    string
	Violation ValidationError
	Dump      string
}

// Outcome is the typed result of one validation pass. Event is set only
// when that pass raised the bankruptcy latch.
type Outcome struct {
	Event *BankruptcyEvent
}

// Bankrupt reports whether this outcome raised the latch.
func (o Outcome) Bankrupt() bool { return o.Event != nil }

// Outcomes collects the results of bracketing several sheets at once.
type Outcomes []Outcome

// Events returns the bankruptcy events, in sheet order.
func (outs Outcomes) Events() []BankruptcyEvent {
	var out []BankruptcyEvent
	for _, o := range outs {
		if o.Event != nil {
			out = append(out, *o.Event)
		}
	}
	return out
}

// Engage re-enables validation. Totals are recomputed from the rows and
// the invariants checked once:
//
//  1. every row's assets and liabilities are >= -eps (else bankruptcy, "negative assets")
//  2. Total.Assets == Total.Equity + Total.Liabilities within tolerance (else StructuralError)
//  3. Total.Equity >= -eps (else bankruptcy, "negative equity")
//
// A sheet that is already bankrupt yields no second event.
func (s *Sheet) Engage() (Outcome, error) {
	s.engaged = true
	s.recomputeTotal()

	if v, ok := s.checkRows(); !ok {
		return s.declareBankruptcy(ReasonNegativeAssets, v), nil
	}

	if v, dev, ok := s.checkEquation(); !ok {
		return Outcome{}, &StructuralError{
			Owner:     s.OwnerRef(),
			Deviation: dev,
			Violation: v,
			Dump:      s.String(),
		}
	}

	if s.total.Equity.LessThan(s.eps.Neg()) {
		v := ValidationError{
			Invariant:   3,
			Item:        model.TotalRow,
			Description: fmt.Sprintf("equity %s below zero", s.total.Equity),
		}
		return s.declareBankruptcy(ReasonNegativeEquity, v), nil
	}
	return Outcome{}, nil
}

func (s *Sheet) recomputeTotal() {
	var t Entry
	for _, name := range s.order {
		e := s.rows[name]
		t.Assets = t.Assets.Add(e.Assets)
		t.Equity = t.Equity.Add(e.Equity)
		t.Liabilities = t.Liabilities.Add(e.Liabilities)
	}
	s.total = t
}

func (s *Sheet) checkRows() (ValidationError, bool) {
	floor := s.eps.Neg()
	for _, name := range s.order {
		e := s.rows[name]
		if e.Assets.LessThan(floor) {
			return ValidationError{
				Invariant:   1,
				Item:        name,
				Description: fmt.Sprintf("assets %s below zero", e.Assets),
			}, false
		}
		if e.Liabilities.LessThan(floor) {
			return ValidationError{
				Invariant:   1,
				Item:        name,
				Description: fmt.Sprintf("liabilities %s below zero", e.Liabilities),
			}, false
		}
	}
	return ValidationError{}, true
}

// checkEquation passes when the deviation is within the looser of the
// absolute and the relative tolerance.
func (s *Sheet) checkEquation() (ValidationError, decimal.Decimal, bool) {
	a := s.total.Assets
	dev := a.Sub(s.total.Equity.Add(s.total.Liabilities))
	tol := decimal.Max(s.eps, s.eps.Mul(a.Abs()))
	if dev.Abs().LessThanOrEqual(tol) {
		return ValidationError{}, dev, true
	}
	return ValidationError{
		Invariant: 2,
		Item:      model.TotalRow,
		Description: fmt.Sprintf("assets %s != equity %s + liabilities %s",
			a, s.total.Equity, s.total.Liabilities),
	}, dev, false
}

func (s *Sheet) declareBankruptcy(reason string, v ValidationError) Outcome {
	if s.bankrupt {
		return Outcome{}
	}
	s.bankrupt = true

	dump := s.String()
	s.logger.Warn("filed bankruptcy",
		"agent", s.ownerName(),
		"reason", reason,
		"violation", v.Error(),
		"ledger", dump,
	)

	if h, ok := s.owner.(BankruptcyHandler); ok {
		h.FileBankruptcy(reason)
	}
	return Outcome{Event: &BankruptcyEvent{
		Owner:     s.OwnerRef(),
		Reason:    reason,
		Violation: v,
		Dump:      dump,
	}}
}
