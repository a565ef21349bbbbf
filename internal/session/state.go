package session

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-session/internal/budget"
	"github.com/stemsi/exam-session/internal/model"
)

// State is the in-memory aggregate of one live session.
type State struct {
	SessionID     uuid.UUID
	UserID        int
	ExamSetID     uuid.UUID
	ExamSetName   string
	Questions     []model.Question
	Answers       *Ledger
	CurrentIndex  int
	TimeLeft      int
	TimeBudget    int
	SelectedParts []int
	TimeMode      model.TimeMode
	IsStarted     bool
	IsPaused      bool
	StartedAt     time.Time
}

// Clone returns a deep copy that callers may read without synchronization.
func (s *State) Clone() *State {
	c := *s
	c.Questions = slices.Clone(s.Questions)
	c.SelectedParts = slices.Clone(s.SelectedParts)
	c.Answers = s.Answers.Clone()
	return &c
}

// ScopedQuestions returns the questions that count towards the score.
func (s *State) ScopedQuestions() []model.Question {
	return budget.Scoped(s.Questions, s.SelectedParts)
}

// TotalQuestions is the score denominator.
func (s *State) TotalQuestions() int {
	if len(s.SelectedParts) == 0 {
		return len(s.Questions)
	}
	return len(s.ScopedQuestions())
}

// AnsweredCount counts answers recorded for in-scope questions.
func (s *State) AnsweredCount() int {
	scoped := s.scopeIndex()
	n := 0
	for e := range s.Answers.All() {
		if _, ok := scoped[e.QuestionID]; ok {
			n++
		}
	}
	return n
}

// CorrectCount counts in-scope answers matching the question's correct choice.
// Unanswered questions count as incorrect.
func (s *State) CorrectCount() int {
	scoped := s.scopeIndex()
	return s.Answers.CorrectCount(func(e model.AnswerEntry) bool {
		q, ok := scoped[e.QuestionID]
		return ok && q.CorrectChoice != "" && q.CorrectChoice == e.Answer
	})
}

// Unlimited reports whether the session has no time budget.
func (s *State) Unlimited() bool {
	return s.TimeMode == model.TimeModeUnlimited || s.TimeBudget == model.UnlimitedTime
}

// Elapsed returns the seconds spent so far: the consumed part of the budget
// for timed sessions, wall-clock time since start for unlimited ones.
func (s *State) Elapsed(now time.Time) int {
	if s.Unlimited() {
		d := now.Sub(s.StartedAt)
		if d < 0 {
			return 0
		}
		return int(d / time.Second)
	}
	spent := s.TimeBudget - s.TimeLeft
	if spent < 0 {
		return 0
	}
	return spent
}

func (s *State) scopeIndex() map[uuid.UUID]model.Question {
	idx := make(map[uuid.UUID]model.Question, len(s.Questions))
	for _, q := range s.Questions {
		if budget.InScope(q, s.SelectedParts) {
			idx[q.ID] = q
		}
	}
	return idx
}

// Score returns round(correct / total * 100), or 0 when there is nothing to score.
func Score(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}
