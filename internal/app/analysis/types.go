package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// Kind selects the analysis pipeline.
type Kind string

const (
	KindAlignment Kind = "alignment"
	KindKPI       Kind = "kpi"
	KindStrategy  Kind = "strategy"
)

var Kinds = []Kind{KindAlignment, KindKPI, KindStrategy}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if lo.Contains(Kinds, k) {
		return k, nil
	}
	return "", &domain.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown analysis %q", s)}
}

type Goal struct {
	Description string    `json:"description"`
	TargetDate  time.Time `json:"target_date"`
}

// EnrichedContext is the business foundation and goal an analysis works on.
// Build it with Normalize before use; it is not changed afterwards.
type EnrichedContext struct {
	TenantID   domain.TenantID `json:"tenant_id"`
	UserID     domain.UserID   `json:"user_id"`
	Purpose    string          `json:"purpose"`
	Mission    string          `json:"mission"`
	Vision     string          `json:"vision"`
	CoreValues []string        `json:"core_values"`
	Goal       Goal            `json:"goal"`
}

// Normalize trims every field, drops blank values and reports every
// problem at once. The returned error wraps one *domain.ValidationError per
// problem.
func (c EnrichedContext) Normalize() (EnrichedContext, error) {
	out := EnrichedContext{
		TenantID: c.TenantID,
		UserID:   c.UserID,
		Purpose:  strings.TrimSpace(c.Purpose),
		Mission:  strings.TrimSpace(c.Mission),
		Vision:   strings.TrimSpace(c.Vision),
		CoreValues: lo.Uniq(lo.FilterMap(c.CoreValues, func(v string, _ int) (string, bool) {
			v = strings.TrimSpace(v)
			return v, v != ""
		})),
		Goal: Goal{
			Description: strings.TrimSpace(c.Goal.Description),
			TargetDate:  c.Goal.TargetDate,
		},
	}

	var errs *multierror.Error
	required := func(field, value string) {
		if value == "" {
			errs = multierror.Append(errs, &domain.ValidationError{Field: field, Message: "must not be empty"})
		}
	}
	required("purpose", out.Purpose)
	required("mission", out.Mission)
	required("vision", out.Vision)
	required("goal.description", out.Goal.Description)
	if len(out.CoreValues) == 0 {
		errs = multierror.Append(errs, &domain.ValidationError{Field: "core_values", Message: "at least one value is required"})
	}
	if out.Goal.TargetDate.IsZero() {
		errs = multierror.Append(errs, &domain.ValidationError{Field: "goal.target_date", Message: "is required"})
	}

	if err := errs.ErrorOrNil(); err != nil {
		return EnrichedContext{}, err
	}
	return out, nil
}

func (c EnrichedContext) templateParams() map[string]any {
	return map[string]any{
		"purpose":     c.Purpose,
		"mission":     c.Mission,
		"vision":      c.Vision,
		"core_values": strings.Join(c.CoreValues, ", "),
		"goal":        c.Goal.Description,
		"target_date": c.Goal.TargetDate.Format("2006-01-02"),
	}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Recommendation struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       Priority `json:"priority"`
	Rationale      string   `json:"rationale"`
	ExpectedImpact string   `json:"expected_impact"`
}

type Result struct {
	Kind            Kind             `json:"kind"`
	Summary         string           `json:"summary,omitempty"`
	AlignmentScore  *int             `json:"alignment_score,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
	Model           string           `json:"model"`
	Usage           domain.Usage     `json:"usage"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
