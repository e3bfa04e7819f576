package domain

// ModelCost is the price in USD per 1K tokens.
type ModelCost struct {
	Prompt     float64
	Completion float64
}

// DefaultModelCosts covers the models the default topic configuration uses.
func DefaultModelCosts() map[string]ModelCost {
	return map[string]ModelCost{
		"gemini-2.5-flash":      {Prompt: 0.0003, Completion: 0.0025},
		"gemini-2.5-flash-lite": {Prompt: 0.0001, Completion: 0.0004},
		"gemini-2.5-pro":        {Prompt: 0.00125, Completion: 0.01},

		"anthropic.claude-3-5-sonnet-20240620-v1:0": {Prompt: 0.003, Completion: 0.015},
		"anthropic.claude-3-haiku-20240307-v1:0":    {Prompt: 0.00025, Completion: 0.00125},

		"gpt-4o-mini": {Prompt: 0.00015, Completion: 0.0006},
		"gpt-4o":      {Prompt: 0.0025, Completion: 0.01},
	}
}

// Pricing computes the cost of an invocation. Unknown models cost nothing.
type Pricing map[string]ModelCost

func (p Pricing) Cost(model string, usage Usage) float64 {
	c, ok := p[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1000*c.Prompt + float64(usage.CompletionTokens)/1000*c.Completion
}
