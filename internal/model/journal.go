package model

import (
	"github.com/shopspring/decimal"
)

// PostingSource tells how a posting entered the flow ledger.
type PostingSource string

const (
	SourceFlow  PostingSource = "flow"  // explicit LogFlow call, one leg of a pair
	SourceStock PostingSource = "stock" // implicit Δstock posting from a balance sheet
)

// Posting is one signed cell update in the flow ledger's linear log.
type Posting struct {
	EntryID string // "PPPP-NNNNNN" + leg letter for flow pairs
	Period  int
	Kind    AccountKind
	Subject string
	Agent   AgentRef
	Amount  decimal.Decimal
	Source  PostingSource
}

// EntryGroup returns the base entry ID (without leg suffix).
// "0003-000001a" -> "0003-000001"
func (p Posting) EntryGroup() string {
	id := p.EntryID
	i := len(id)
	for i > 0 && id[i-1] >= 'a' && id[i-1] <= 'z' {
		i--
	}
	return id[:i]
}
