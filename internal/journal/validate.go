package journal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/id"
	"github.com/stockflow-dev/stockflow/internal/model"
)

// ValidationError describes a single invariant violation.
type ValidationError struct {
	Invariant   int
	EntryID     string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invariant %d [%s]: %s", e.Invariant, e.EntryID, e.Description)
}

// ValidatePostings enforces 4 invariants on one period's postings.
func ValidatePostings(postings []model.Posting, period int) []ValidationError {
	var errs []ValidationError

	// Group legs by entry.
	groups := make(map[string][]model.Posting)
	var groupOrder []string
	for _, p := range postings {
		g := p.EntryGroup()
		if _, seen := groups[g]; !seen {
			groupOrder = append(groupOrder, g)
		}
		groups[g] = append(groups[g], p)
	}

	// Invariant 1: explicit flows are two legs that cancel.
	for _, g := range groupOrder {
		legs := groups[g]
		if legs[0].Source != model.SourceFlow {
			if len(legs) != 1 {
				errs = append(errs, ValidationError{
					Invariant:   1,
					EntryID:     g,
					Description: fmt.Sprintf("stock posting has %d legs", len(legs)),
				})
			}
			continue
		}
		sum := decimal.Zero
		for _, leg := range legs {
			sum = sum.Add(leg.Amount)
		}
		if len(legs) != 2 || !sum.IsZero() {
			errs = append(errs, ValidationError{
				Invariant:   1,
				EntryID:     g,
				Description: fmt.Sprintf("flow has %d legs summing to %s", len(legs), sum),
			})
		}
	}

	total := decimal.Zero
	for _, p := range postings {
		total = total.Add(p.Amount)

		// Invariant 2: known account kind, subject and agent.
		if p.Kind != model.Current && p.Kind != model.Capital {
			errs = append(errs, ValidationError{
				Invariant:   2,
				EntryID:     p.EntryID,
				Description: fmt.Sprintf("unknown account kind %v", p.Kind),
			})
		}
		if p.Subject == "" || p.Agent.Name == "" {
			errs = append(errs, ValidationError{
				Invariant:   2,
				EntryID:     p.EntryID,
				Description: "posting must name a subject and an agent",
			})
		}
	}

	// Invariant 3: IDs parse, belong to the period, and sequences are contiguous 1..N.
	seqSeen := make(map[int]bool)
	for _, p := range postings {
		idPeriod, seq, err := id.ParseEntryID(p.EntryID)
		if err != nil {
			errs = append(errs, ValidationError{
				Invariant:   3,
				EntryID:     p.EntryID,
				Description: fmt.Sprintf("invalid entry ID: %v", err),
			})
			continue
		}
		if idPeriod != period || p.Period != period {
			errs = append(errs, ValidationError{
				Invariant:   3,
				EntryID:     p.EntryID,
				Description: fmt.Sprintf("posting stamped period %d not in period %d", p.Period, period),
			})
		}
		seqSeen[seq] = true
	}
	for i := 1; i <= len(seqSeen); i++ {
		if !seqSeen[i] {
			errs = append(errs, ValidationError{
				Invariant:   3,
				EntryID:     fmt.Sprintf("seq %d", i),
				Description: fmt.Sprintf("missing sequence %d in 1..%d", i, len(seqSeen)),
			})
		}
	}

	// Invariant 4: the period nets to zero across all agents.
	if !total.IsZero() {
		errs = append(errs, ValidationError{
			Invariant:   4,
			EntryID:     fmt.Sprintf("%04d", period),
			Description: fmt.Sprintf("period total is %s, want 0", total),
		})
	}

	return errs
}
