package budget

import (
	"slices"

	"github.com/stemsi/exam-session/internal/model"
)

// Calculator computes the total time budget of a session from a configured
// allotment table. It holds no state besides the table and is safe for
// concurrent use.
type Calculator struct {
	table Table
}

// NewCalculator creates a Calculator over the given allotment table.
func NewCalculator(table Table) *Calculator {
	return &Calculator{table: table.clone()}
}

// Table returns a copy of the allotment table in use.
func (c *Calculator) Table() Table {
	return c.table.clone()
}

// Compute returns the allotted seconds for the in-scope questions.
// Unlimited mode always yields model.UnlimitedTime.
func (c *Calculator) Compute(questions []model.Question, selectedParts []int, mode model.TimeMode) int {
	if mode == model.TimeModeUnlimited {
		return model.UnlimitedTime
	}

	total := 0
	for _, q := range questions {
		if !InScope(q, selectedParts) {
			continue
		}
		total += c.table.SecondsFor(q.Part)
	}
	return total
}

// InScope reports whether q belongs to one of the selected parts. An empty
// selection means every part is in scope.
func InScope(q model.Question, selectedParts []int) bool {
	if len(selectedParts) == 0 {
		return true
	}
	return slices.Contains(selectedParts, q.Part)
}

// Scoped returns the questions that belong to the selected parts, in order.
func Scoped(questions []model.Question, selectedParts []int) []model.Question {
	if len(selectedParts) == 0 {
		return slices.Clone(questions)
	}
	out := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		if InScope(q, selectedParts) {
			out = append(out, q)
		}
	}
	return out
}
