package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates persisted exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
)

// TimeMode selects how the time budget of a session is computed.
type TimeMode string

const (
	TimeModeStandard  TimeMode = "standard"
	TimeModeUnlimited TimeMode = "unlimited"
)

// Valid reports whether m is a known time mode.
func (m TimeMode) Valid() bool {
	return m == TimeModeStandard || m == TimeModeUnlimited
}

// UnlimitedTime is the timeLeft sentinel for sessions without a time budget.
const UnlimitedTime = -1

// SessionMeta carries the creation-time parameters persisted with a session
// so it can be rebuilt on resume.
type SessionMeta struct {
	TimeMode      TimeMode `json:"time_mode"`
	SelectedParts []int    `json:"selected_parts,omitempty"`
	TimeBudget    int      `json:"time_budget"`
}

// SessionSnapshot is the persisted view of an in-progress session, returned
// when looking for a session to resume.
type SessionSnapshot struct {
	SessionID      uuid.UUID   `json:"session_id"`
	UserID         int         `json:"user_id"`
	ExamSetID      uuid.UUID   `json:"exam_set_id"`
	ExamSetName    string      `json:"exam_set_name"`
	TotalQuestions int         `json:"total_questions"`
	CurrentIndex   int         `json:"current_index"`
	TimeLeft       int         `json:"time_left"`
	AnsweredCount  int         `json:"answered_count"`
	Meta           SessionMeta `json:"meta"`
	StartedAt      time.Time   `json:"started_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SessionResult is returned when a session is completed.
type SessionResult struct {
	SessionID        uuid.UUID `json:"session_id"`
	CorrectAnswers   int       `json:"correct_answers"`
	TotalQuestions   int       `json:"total_questions"`
	Score            int       `json:"score"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// CreateSessionRequest is the payload for starting a new session.
type CreateSessionRequest struct {
	ExamSetID     uuid.UUID `json:"exam_set_id" binding:"required"`
	SelectedParts []int     `json:"selected_parts" binding:"omitempty,dive,min=1,max=99"`
	TimeMode      TimeMode  `json:"time_mode" binding:"required,timemode"`
}

// SaveAnswerRequest is the payload for recording one answer.
type SaveAnswerRequest struct {
	QuestionID  uuid.UUID `json:"question_id" binding:"required"`
	Answer      string    `json:"answer" binding:"max=2000"`
	TimeSpentMs int64     `json:"time_spent_ms" binding:"min=0"`
}

// UpdateProgressRequest is the payload for moving the cursor and reporting
// the remaining time shown to the user.
type UpdateProgressRequest struct {
	CurrentIndex int `json:"current_index" binding:"min=0"`
	TimeLeft     int `json:"time_left" binding:"min=-1"`
}
