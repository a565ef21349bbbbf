package model

import (
	"github.com/google/uuid"
)

// Question is the scoring-relevant descriptor of one exam question. The full
// question content lives in the question bank and is never needed here.
type Question struct {
	ID            uuid.UUID `json:"id"`
	Part          int       `json:"part"`
	Kind          string    `json:"kind,omitempty"`
	CorrectChoice string    `json:"-"`
	OrderNum      int       `json:"order_num"`
}

// AnswerEntry is one recorded answer as it is flushed to the store.
type AnswerEntry struct {
	QuestionID  uuid.UUID `json:"question_id"`
	Answer      string    `json:"answer"`
	TimeSpentMs int64     `json:"time_spent_ms"`
}
