package signals

import "github.com/PabloGalante/farum-coach/internal/domain"

// Lexicon is the vocabulary used to read signals out of user messages.
// Terms are lower case; multi word terms match as phrases.
type Lexicon struct {
	// Categories maps a life area to the terms that indicate it.
	Categories map[string][]string
	// Values are the value names recognised when the user states them.
	Values []string
}

var commonCategories = map[string][]string{
	"work":          {"work", "job", "career", "boss", "colleague", "office", "business"},
	"family":        {"family", "parent", "mother", "father", "kids", "children", "partner", "spouse"},
	"relationships": {"friend", "friends", "relationship", "community", "team", "people"},
	"health":        {"health", "exercise", "sleep", "body", "energy", "wellbeing"},
	"growth":        {"learn", "learning", "growth", "grow", "skill", "study", "challenge"},
	"finances":      {"money", "finance", "finances", "income", "savings", "salary"},
	"leisure":       {"hobby", "hobbies", "travel", "music", "art", "nature", "play"},
}

var commonValues = []string{
	"honesty", "integrity", "courage", "compassion", "kindness", "freedom",
	"creativity", "curiosity", "family", "loyalty", "respect", "growth",
	"security", "adventure", "health", "balance", "excellence", "generosity",
	"gratitude", "justice", "independence", "responsibility", "trust",
	"authenticity", "service", "humility", "discipline", "joy", "community",
	"wisdom", "fairness", "peace", "innovation", "collaboration",
}

// DefaultLexicons gives every conversational topic the common vocabulary
// plus a few topic specific categories.
func DefaultLexicons() map[domain.Topic]Lexicon {
	withExtra := func(extra map[string][]string) map[string][]string {
		out := make(map[string][]string, len(commonCategories)+len(extra))
		for k, v := range commonCategories {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	return map[domain.Topic]Lexicon{
		domain.TopicCoreValues: {
			Categories: withExtra(map[string][]string{
				"ethics": {"right thing", "principle", "principles", "ethical", "fair"},
			}),
			Values: commonValues,
		},
		domain.TopicPurpose: {
			Categories: withExtra(map[string][]string{
				"contribution": {"impact", "contribute", "help others", "legacy", "difference"},
			}),
			Values: commonValues,
		},
		domain.TopicVision: {
			Categories: withExtra(map[string][]string{
				"future": {"future", "in five years", "someday", "dream", "imagine"},
			}),
			Values: commonValues,
		},
		domain.TopicGoals: {
			Categories: withExtra(map[string][]string{
				"milestones": {"milestone", "deadline", "target", "by the end of", "quarter"},
			}),
			Values: commonValues,
		},
	}
}

var insightMarkers = []string{
	"i realize", "i realise", "i realized", "i realised", "i learned",
	"i've learned", "i have learned", "i notice", "i noticed",
	"i understand now", "now i see", "it matters to me", "what matters most",
	"i value", "it turns out", "i discovered",
}

var confirmationPhrases = []string{
	"yes", "i confirm", "confirmed", "that's right", "that is right",
	"exactly", "correct", "that's me", "sounds right", "agreed", "i agree",
}
