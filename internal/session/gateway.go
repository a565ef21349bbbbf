package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-session/internal/model"
)

// Gateway is the durable store behind a Manager. Calls may fail or be slow;
// answer upserts are keyed by (sessionID, questionID) so repeated flushes are
// idempotent.
//
// Only in-progress sessions are written. Progress and answer writes against a
// finalized session are no-ops. MarkCompleted and MarkCancelled succeed again
// for the outcome already stored and return ErrAlreadyFinalized for the other.
type Gateway interface {
	CreateSession(ctx context.Context, userID int, examSetID uuid.UUID, totalQuestions int, startedAt time.Time, meta model.SessionMeta) (uuid.UUID, error)
	UpdateSessionProgress(ctx context.Context, sessionID uuid.UUID, currentIndex, timeLeft int, updatedAt time.Time) error
	UpsertAnswers(ctx context.Context, sessionID uuid.UUID, answers []model.AnswerEntry) error
	MarkCompleted(ctx context.Context, sessionID uuid.UUID, correctAnswers, score, timeSpent int, completedAt time.Time) error
	MarkCancelled(ctx context.Context, sessionID uuid.UUID, completedAt time.Time) error
	// FindInProgressSession returns nil, nil when the user has no session to resume.
	FindInProgressSession(ctx context.Context, userID int) (*model.SessionSnapshot, error)
	LoadAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerEntry, error)
}

// QuestionSource resolves the question descriptors of an exam set. It is
// used to rebuild a session that only exists in the store.
type QuestionSource interface {
	ExamSet(ctx context.Context, examSetID uuid.UUID) (*model.ExamSet, error)
	Questions(ctx context.Context, examSetID uuid.UUID) ([]model.Question, error)
}
