package session

import (
	"iter"

	"github.com/google/uuid"
	"github.com/stemsi/exam-session/internal/model"
)

// Ledger records the latest answer per question. Keys are unique and the
// last write wins; iteration follows first-insertion order.
//
// A Ledger is not safe for concurrent use; the Manager serializes access.
type Ledger struct {
	order   []uuid.UUID
	entries map[uuid.UUID]model.AnswerEntry
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[uuid.UUID]model.AnswerEntry)}
}

// Upsert records an answer, replacing any earlier entry for the question.
func (l *Ledger) Upsert(questionID uuid.UUID, answer string, timeSpentMs int64) {
	if _, ok := l.entries[questionID]; !ok {
		l.order = append(l.order, questionID)
	}
	l.entries[questionID] = model.AnswerEntry{
		QuestionID:  questionID,
		Answer:      answer,
		TimeSpentMs: timeSpentMs,
	}
}

// Get returns the entry recorded for questionID.
func (l *Ledger) Get(questionID uuid.UUID) (model.AnswerEntry, bool) {
	e, ok := l.entries[questionID]
	return e, ok
}

// Len returns the number of answered questions.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// All yields the entries in insertion order. The sequence can be ranged over
// any number of times.
func (l *Ledger) All() iter.Seq[model.AnswerEntry] {
	return func(yield func(model.AnswerEntry) bool) {
		for _, id := range l.order {
			if !yield(l.entries[id]) {
				return
			}
		}
	}
}

// CorrectCount counts the entries accepted by isCorrect. The ledger has no
// notion of correctness on its own.
func (l *Ledger) CorrectCount(isCorrect func(model.AnswerEntry) bool) int {
	n := 0
	for e := range l.All() {
		if isCorrect(e) {
			n++
		}
	}
	return n
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		order:   make([]uuid.UUID, len(l.order)),
		entries: make(map[uuid.UUID]model.AnswerEntry, len(l.entries)),
	}
	copy(c.order, l.order)
	for k, v := range l.entries {
		c.entries[k] = v
	}
	return c
}
