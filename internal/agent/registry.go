package agent

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/model"
)

// Registry holds every agent of a run, grouped by class.
type Registry struct {
	byClass map[string][]*Agent
	counts  map[string]int
	order   []*Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byClass: make(map[string][]*Agent),
		counts:  make(map[string]int),
	}
}

// Register creates a new agent of class. Names are "<Class>__00001",
// numbered per class from one.
func (r *Registry) Register(class string, opts ...Option) *Agent {
	r.counts[class]++
	name := fmt.Sprintf("%s__%05d", class, r.counts[class])
	a := newAgent(model.AgentRef{Name: name, Class: class}, opts...)
	r.byClass[class] = append(r.byClass[class], a)
	r.order = append(r.order, a)
	return a
}

// Find looks an agent up by name or alias.
func (r *Registry) Find(name string) (*Agent, bool) {
	for _, a := range r.order {
		if a.ref.Name == name || a.alias == name {
			return a, true
		}
	}
	return nil, false
}

// OfClass returns the agents of class in registration order.
func (r *Registry) OfClass(class string) []*Agent {
	return append([]*Agent(nil), r.byClass[class]...)
}

// Count returns the number of registered agents of class.
func (r *Registry) Count(class string) int {
	return len(r.byClass[class])
}

// Classes returns every class with at least one agent, sorted.
func (r *Registry) Classes() []string {
	out := make([]string, 0, len(r.byClass))
	for c, agents := range r.byClass {
		if len(agents) > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// All returns every agent in registration order.
func (r *Registry) All() []*Agent {
	return append([]*Agent(nil), r.order...)
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.order) }

// Remove drops a from the registry. Counters are not rewound, so later
// registrations never reuse a name.
func (r *Registry) Remove(a *Agent) error {
	idx := -1
	for i, x := range r.order {
		if x == a {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("agent %s not registered", a.Name())
	}
	r.order = append(r.order[:idx], r.order[idx+1:]...)

	class := r.byClass[a.ref.Class]
	for i, x := range class {
		if x == a {
			r.byClass[a.ref.Class] = append(class[:i], class[i+1:]...)
			break
		}
	}
	return nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
