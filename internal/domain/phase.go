package domain

// Phase is one stage of the fixed conversation lifecycle.
type Phase string

const (
	PhaseIntroduction Phase = "introduction"
	PhaseExploration  Phase = "exploration"
	PhaseDeepening    Phase = "deepening"
	PhaseSynthesis    Phase = "synthesis"
	PhaseValidation   Phase = "validation"
	PhaseCompletion   Phase = "completion"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseIntroduction,
	PhaseExploration,
	PhaseDeepening,
	PhaseSynthesis,
	PhaseValidation,
	PhaseCompletion,
}

var phaseProgress = map[Phase]float64{
	PhaseIntroduction: 0.1,
	PhaseExploration:  0.3,
	PhaseDeepening:    0.5,
	PhaseSynthesis:    0.7,
	PhaseValidation:   0.9,
	PhaseCompletion:   1.0,
}

// Index is the position of p in the lifecycle, or -1 for an unknown phase.
func (p Phase) Index() int {
	for i, candidate := range Phases {
		if candidate == p {
			return i
		}
	}
	return -1
}

func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the phase after p. The terminal phase has no successor.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i == len(Phases)-1 {
		return "", false
	}
	return Phases[i+1], true
}

// Before reports whether p comes strictly earlier than other.
func (p Phase) Before(other Phase) bool {
	return p.Index() < other.Index()
}

func (p Phase) Terminal() bool {
	return p == PhaseCompletion
}

// Progress is the fixed weight of p; unknown phases weigh 0.
func (p Phase) Progress() float64 {
	return phaseProgress[p]
}
