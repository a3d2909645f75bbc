// Package content hands out duel content: typing corpora and coding
// problems. Problem statements and judging live in external services; the
// engine only needs the words (typing) or the test count (coding).
package content

import (
	"math/rand"
	"strings"

	"github.com/skillversus/duel-backend/internal/engine"
)

type Source interface {
	Typing() []string
	Coding() engine.Problem
}

var defaultPassages = []string{
	"the quick brown fox jumps over the lazy dog while the cat watches from the fence",
	"a journey of a thousand miles begins with a single step taken in the right direction",
	"practice does not make perfect but it does make permanent so practice with care",
	"every program has at least one bug and can be shortened by at least one line",
	"simplicity is the ultimate sophistication when it comes to designing reliable systems",
}

var defaultProblems = []engine.Problem{
	{ID: "two-sum", Title: "Two Sum", TestCount: 12},
	{ID: "reverse-list", Title: "Reverse Linked List", TestCount: 8},
	{ID: "valid-parens", Title: "Valid Parentheses", TestCount: 10},
	{ID: "merge-intervals", Title: "Merge Intervals", TestCount: 14},
}

// Static serves content from built-in fixtures. A production deployment
// swaps in a source backed by the problem database.
type Static struct{}

func (Static) Typing() []string {
	passage := defaultPassages[rand.Intn(len(defaultPassages))]
	return strings.Fields(passage)
}

func (Static) Coding() engine.Problem {
	return defaultProblems[rand.Intn(len(defaultProblems))]
}
