// Package phase decides when a conversation may move to its next phase.
// Everything here is pure: no I/O, no clocks, no shared state.
package phase

import (
	"fmt"
	"strings"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

type DecisionKind string

const (
	Stay    DecisionKind = "stay"
	Advance DecisionKind = "advance"
	Reject  DecisionKind = "reject"
)

// Decision is the outcome of one evaluation. Next is set only for Advance;
// Reason explains Stay and Reject.
type Decision struct {
	Kind   DecisionKind
	Next   domain.Phase
	Reason string
}

// Requirement is the predicate a phase must satisfy before it is left.
type Requirement struct {
	MinResponses        int
	MinCategories       int
	MinInsights         int
	MinValuesIdentified int
	MinValuesConfirmed  int
	RequireConfirmation bool
}

// Unmet lists the parts of r that s does not satisfy.
func (r Requirement) Unmet(s domain.Signals) []string {
	var unmet []string
	check := func(name string, have, want int) {
		if have < want {
			unmet = append(unmet, fmt.Sprintf("%s %d/%d", name, have, want))
		}
	}
	check("responses", s.Responses, r.MinResponses)
	check("categories_explored", s.CategoriesExplored, r.MinCategories)
	check("insights_captured", s.InsightsCaptured, r.MinInsights)
	check("values_identified", s.ValuesIdentified, r.MinValuesIdentified)
	check("values_confirmed", s.ValuesConfirmed, r.MinValuesConfirmed)
	if r.RequireConfirmation && !s.UserConfirmation {
		unmet = append(unmet, "user_confirmation missing")
	}
	return unmet
}

func (r Requirement) SatisfiedBy(s domain.Signals) bool {
	return len(r.Unmet(s)) == 0
}

// DefaultRequirements is the requirement to leave each non-terminal phase.
func DefaultRequirements() map[domain.Phase]Requirement {
	return map[domain.Phase]Requirement{
		domain.PhaseIntroduction: {MinResponses: 1},
		domain.PhaseExploration:  {MinResponses: 5, MinCategories: 2},
		domain.PhaseDeepening:    {MinResponses: 8, MinInsights: 2},
		domain.PhaseSynthesis:    {MinValuesIdentified: 3},
		domain.PhaseValidation: {
			RequireConfirmation: true,
			MinValuesIdentified: 3,
			MinValuesConfirmed:  3,
		},
	}
}

// minimumInteraction applies to phases without an entry in the table.
var minimumInteraction = Requirement{MinResponses: 1}

type Policy struct {
	requirements map[domain.Phase]Requirement
}

// NewPolicy builds a policy over reqs; nil means DefaultRequirements.
func NewPolicy(reqs map[domain.Phase]Requirement) *Policy {
	if reqs == nil {
		reqs = DefaultRequirements()
	}
	copied := make(map[domain.Phase]Requirement, len(reqs))
	for p, r := range reqs {
		copied[p] = r
	}
	return &Policy{requirements: copied}
}

// Requirement returns what leaving p takes.
func (p *Policy) Requirement(current domain.Phase) Requirement {
	if r, ok := p.requirements[current]; ok {
		return r
	}
	return minimumInteraction
}

// Evaluate decides the next step for a conversation in current with the
// given signals. It advances at most one phase.
func (p *Policy) Evaluate(current domain.Phase, signals domain.Signals) Decision {
	if !current.Valid() {
		return Decision{Kind: Reject, Reason: fmt.Sprintf("unknown phase %q", current)}
	}
	next, ok := current.Next()
	if !ok {
		return Decision{Kind: Reject, Reason: "conversation already in terminal phase"}
	}

	unmet := p.Requirement(current).Unmet(signals)
	if len(unmet) > 0 {
		return Decision{Kind: Stay, Reason: strings.Join(unmet, ", ")}
	}
	return Decision{Kind: Advance, Next: next}
}

// Apply returns the phase a conversation holds after d. A decision never
// moves the phase backwards.
func Apply(current domain.Phase, d Decision) domain.Phase {
	if d.Kind == Advance && current.Before(d.Next) {
		return d.Next
	}
	return current
}
