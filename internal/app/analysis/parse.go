package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

type rawResult struct {
	AlignmentScore  *float64 `json:"alignment_score"`
	Summary         string   `json:"summary"`
	Recommendations []struct {
		Title          string `json:"title"`
		Description    string `json:"description"`
		Priority       string `json:"priority"`
		Rationale      string `json:"rationale"`
		ExpectedImpact string `json:"expected_impact"`
	} `json:"recommendations"`
}

// extractJSON returns the outermost JSON object in text, ignoring code
// fences and prose around it.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// parseResult turns a model answer into a validated Result. Any problem is
// reported as domain.ErrMalformedResponse.
func parseResult(kind Kind, text string) (*Result, error) {
	body, ok := extractJSON(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", domain.ErrMalformedResponse)
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if len(raw.Recommendations) == 0 {
		return nil, fmt.Errorf("%w: no recommendations", domain.ErrMalformedResponse)
	}

	res := &Result{Kind: kind, Summary: strings.TrimSpace(raw.Summary)}
	for i, r := range raw.Recommendations {
		rec := Recommendation{
			Title:          strings.TrimSpace(r.Title),
			Description:    strings.TrimSpace(r.Description),
			Priority:       Priority(strings.ToLower(strings.TrimSpace(r.Priority))),
			Rationale:      strings.TrimSpace(r.Rationale),
			ExpectedImpact: strings.TrimSpace(r.ExpectedImpact),
		}
		if err := rec.validate(); err != nil {
			return nil, fmt.Errorf("%w: recommendation %d: %v", domain.ErrMalformedResponse, i, err)
		}
		res.Recommendations = append(res.Recommendations, rec)
	}

	if raw.AlignmentScore != nil {
		score := *raw.AlignmentScore
		if score < 0 || score > 100 || math.IsNaN(score) {
			return nil, fmt.Errorf("%w: alignment_score %v out of range", domain.ErrMalformedResponse, score)
		}
		rounded := int(math.Round(score))
		res.AlignmentScore = &rounded
	}
	return res, nil
}

func (r Recommendation) validate() error {
	fields := []struct{ name, value string }{
		{"title", r.Title},
		{"description", r.Description},
		{"rationale", r.Rationale},
		{"expected_impact", r.ExpectedImpact},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s is empty", f.name)
		}
	}
	switch r.Priority {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return nil
	}
	return fmt.Errorf("priority %q is not high, medium or low", r.Priority)
}
