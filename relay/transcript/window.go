package transcript

// Window bounds the context sent to the provider. Zero fields mean no limit.
type Window struct {
	MaxTurns  int // newest turns kept
	MaxTokens int // estimated token budget
	// TokenEstimator defaults to EstimateTokens when nil.
	TokenEstimator func(s string) int
}

// EstimateTokens is the default heuristic: roughly four characters per token.
func EstimateTokens(s string) int {
	l := len(s)
	if l == 0 {
		return 0
	}
	return (l + 3) / 4
}

// Apply returns the newest suffix of t that fits the window. The most recent
// turn is always kept so the provider sees what the user just said.
func (w Window) Apply(t Transcript) Transcript {
	if len(t) == 0 {
		return Transcript{}
	}

	start := 0
	if w.MaxTurns > 0 && len(t) > w.MaxTurns {
		start = len(t) - w.MaxTurns
	}

	if w.MaxTokens > 0 {
		est := w.TokenEstimator
		if est == nil {
			est = EstimateTokens
		}

		remaining := w.MaxTokens
		cut := len(t) - 1
		remaining -= est(t[cut].Content)
		for cut > start {
			cost := est(t[cut-1].Content)
			if cost > remaining {
				break
			}
			remaining -= cost
			cut--
		}
		start = cut
	}

	return t[start:].Clone()
}
