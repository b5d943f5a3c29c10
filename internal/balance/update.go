package balance

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/model"
)

var (
	// ErrUpdateInProgress is returned by Begin while the sheet already has an open Update.
	ErrUpdateInProgress = errors.New("balance sheet update already in progress")
	// ErrUpdateClosed is returned when using an Update after Close.
	ErrUpdateClosed = errors.New("balance sheet update already closed")
)

// Update is a scoped mutation bracket on one sheet. Begin disengages the
// sheet; Close is the only way out and always re-engages it.
type Update struct {
	sheet  *Sheet
	closed bool
}

// Begin opens an Update. Nesting a second Update on the same sheet fails.
func (s *Sheet) Begin() (*Update, error) {
	if s.open != nil {
		return nil, ErrUpdateInProgress
	}
	s.Disengage()
	u := &Update{sheet: s}
	s.open = u
	return u, nil
}

// Sheet returns the bracketed sheet.
func (u *Update) Sheet() *Sheet { return u.sheet }

// ChangeItem forwards to Sheet.ChangeItem while the Update is open.
func (u *Update) ChangeItem(name string, col model.Column, delta decimal.Decimal, suppressStock bool) error {
	if u.closed {
		return ErrUpdateClosed
	}
	return u.sheet.ChangeItem(name, col, delta, suppressStock)
}

// Close re-engages the sheet and returns the validation result.
func (u *Update) Close() (Outcome, error) {
	if u.closed {
		return Outcome{}, ErrUpdateClosed
	}
	u.closed = true
	if u.sheet.open == u {
		u.sheet.open = nil
	}
	return u.sheet.Engage()
}

// Modify brackets all sheets, runs fn, then engages every sheet in order
// even when fn returns an error or panics. The same sheet listed twice is
// rejected as a nested update.
func Modify(fn func() error, sheets ...*Sheet) (outcomes Outcomes, err error) {
	updates := make([]*Update, 0, len(sheets))
	for _, s := range sheets {
		u, berr := s.Begin()
		if berr != nil {
			outs, cerr := closeAll(updates)
			return outs, errors.Join(berr, cerr)
		}
		updates = append(updates, u)
	}

	defer func() {
		outs, cerr := closeAll(updates)
		outcomes = outs
		err = errors.Join(err, cerr)
	}()

	return nil, fn()
}

func closeAll(updates []*Update) (Outcomes, error) {
	outs := make(Outcomes, 0, len(updates))
	var errs []error
	for _, u := range updates {
		o, err := u.Close()
		outs = append(outs, o)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return outs, errors.Join(errs...)
}
