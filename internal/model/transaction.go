package model

// AgentRef identifies a participant in the flow ledger. Class groups
// same-kind agents in aggregated views.
type AgentRef struct {
	Name  string
	Class string
}

func (r AgentRef) String() string {
	return r.Name
}

// Flow names the (from, to) account kinds of one transaction. A
// transaction itself is never stored: it is the paired subtract/add it
// leaves in the flow ledger.
type Flow struct {
	From AccountKind `yaml:"from" toml:"from"`
	To   AccountKind `yaml:"to" toml:"to"`
}

// Between is shorthand for Flow{From: from, To: to}.
func Between(from, to AccountKind) Flow {
	return Flow{From: from, To: to}
}
