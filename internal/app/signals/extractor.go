// Package signals derives phase-readiness counters from a conversation's
// user messages.
package signals

import (
	"sort"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// Snapshot is the result of one extraction.
type Snapshot struct {
	Signals    domain.Signals
	Categories []string
	Values     []string
	Confirmed  []string
}

type Extractor struct {
	lexicons map[domain.Topic]Lexicon
	fallback Lexicon
}

// NewExtractor uses lexicons per topic; nil means DefaultLexicons. Topics
// without an entry use the common vocabulary.
func NewExtractor(lexicons map[domain.Topic]Lexicon) *Extractor {
	if lexicons == nil {
		lexicons = DefaultLexicons()
	}
	return &Extractor{
		lexicons: lexicons,
		fallback: Lexicon{Categories: commonCategories, Values: commonValues},
	}
}

// Extract recomputes signals from the whole user history. confirm is the
// explicit acknowledgement given with the current turn.
func (e *Extractor) Extract(topic domain.Topic, history []*domain.Message, confirm bool) Snapshot {
	lex, ok := e.lexicons[topic]
	if !ok {
		lex = e.fallback
	}

	userMsgs := lo.Filter(history, func(m *domain.Message, _ int) bool {
		return m.Role == domain.RoleUser
	})

	categories := map[string]struct{}{}
	var values, validationValues []string
	insights := 0
	confirmed := confirm

	for _, m := range userMsgs {
		text := normalize(m.Content)

		for name, terms := range lex.Categories {
			if containsAny(text, terms) {
				categories[name] = struct{}{}
			}
		}

		mentioned := lo.Filter(lex.Values, func(v string, _ int) bool {
			return containsTerm(text, v)
		})
		values = append(values, mentioned...)

		if containsAny(text, insightMarkers) {
			insights++
		}

		if m.Phase == domain.PhaseValidation {
			validationValues = append(validationValues, mentioned...)
			if isConfirmation(text) {
				confirmed = true
			}
		}
	}

	values = lo.Uniq(values)
	var confirmedValues []string
	if confirmed {
		confirmedValues = values
	} else {
		confirmedValues = lo.Uniq(validationValues)
	}

	cats := lo.Keys(categories)
	sort.Strings(cats)

	return Snapshot{
		Signals: domain.Signals{
			Responses:          len(userMsgs),
			CategoriesExplored: len(cats),
			InsightsCaptured:   insights,
			ValuesIdentified:   len(values),
			ValuesConfirmed:    len(confirmedValues),
			UserConfirmation:   confirmed,
		},
		Categories: cats,
		Values:     values,
		Confirmed:  confirmedValues,
	}
}

var negations = []string{"not", "no", "don't", "doesn't", "isn't", "wrong", "nope"}

func isConfirmation(text string) bool {
	return containsAny(text, confirmationPhrases) && !containsAny(text, negations)
}

// normalize lower-cases s and reduces it to space separated words with a
// leading and trailing space so terms can be matched on word boundaries.
func normalize(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "’", "'")
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsTerm(normalized, term string) bool {
	return strings.Contains(normalized, " "+term+" ")
}

func containsAny(normalized string, terms []string) bool {
	return lo.SomeBy(terms, func(term string) bool {
		return containsTerm(normalized, term)
	})
}
