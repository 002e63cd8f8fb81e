package retrieval

// Estimate approximates the token cost of a string (~4 chars per token).
// The same estimator is used at chunking time, so budget math is consistent
// across the pipeline.
func Estimate(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// Budget tracks token spend during prompt assembly.
type Budget struct {
	limit int
	used  int
}

func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// TryAdd consumes tokens if they fit, reporting whether they did. The first
// addition always fits so an answer is never assembled from zero snippets.
func (b *Budget) TryAdd(tokens int) bool {
	if b.used > 0 && b.used+tokens > b.limit {
		return false
	}
	b.used += tokens
	return true
}

func (b *Budget) Used() int { return b.used }
