package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/session"
)

var _ session.Gateway = (*SessionGateway)(nil)

// SessionGateway is the PostgreSQL-backed session store.
type SessionGateway struct {
	pool *pgxpool.Pool
}

// NewSessionGateway creates a new SessionGateway.
func NewSessionGateway(pool *pgxpool.Pool) *SessionGateway {
	return &SessionGateway{pool: pool}
}

// CreateSession inserts an in-progress session and returns its id. A second
// in-progress session for the same user violates the partial unique index
// and is reported as session.ErrAlreadyActive.
func (r *SessionGateway) CreateSession(ctx context.Context, userID int, examSetID uuid.UUID, totalQuestions int, startedAt time.Time, meta model.SessionMeta) (uuid.UUID, error) {
	parts := meta.SelectedParts
	if parts == nil {
		parts = []int{}
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions
		   (user_id, exam_set_id, total_questions, time_mode, selected_parts, time_budget, time_left, status, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8, $8)
		 RETURNING id`,
		userID, examSetID, totalQuestions, meta.TimeMode, parts, meta.TimeBudget,
		model.SessionStatusInProgress, startedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, session.ErrAlreadyActive
		}
		return uuid.Nil, err
	}
	return id, nil
}

// UpdateSessionProgress stores the cursor and remaining time. Finalized
// sessions are left untouched so a late checkpoint cannot reopen them.
func (r *SessionGateway) UpdateSessionProgress(ctx context.Context, sessionID uuid.UUID, currentIndex, timeLeft int, updatedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET current_index = $1, time_left = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		currentIndex, timeLeft, updatedAt, sessionID, model.SessionStatusInProgress)
	return err
}

// UpsertAnswers writes every entry in one round trip, one row per question.
// Rows are only written while the session is in progress.
func (r *SessionGateway) UpsertAnswers(ctx context.Context, sessionID uuid.UUID, answers []model.AnswerEntry) error {
	if len(answers) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(
			`INSERT INTO session_answers (session_id, question_id, answer, time_spent_ms)
			 SELECT $1::uuid, $2::uuid, $3::text, $4::bigint
			 WHERE EXISTS (SELECT 1 FROM exam_sessions WHERE id = $1::uuid AND status = $5)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET answer = EXCLUDED.answer, time_spent_ms = EXCLUDED.time_spent_ms, updated_at = NOW()`,
			sessionID, a.QuestionID, a.Answer, a.TimeSpentMs, model.SessionStatusInProgress,
		)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// MarkCompleted records the final score of an in-progress session.
func (r *SessionGateway) MarkCompleted(ctx context.Context, sessionID uuid.UUID, correct, score, timeSpent int, completedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, correct_answers = $2, score = $3, time_spent = $4,
		     completed_at = $5, updated_at = $5
		 WHERE id = $6 AND status = $7`,
		model.SessionStatusCompleted, correct, score, timeSpent, completedAt, sessionID,
		model.SessionStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.finalized(ctx, sessionID, model.SessionStatusCompleted)
	}
	return nil
}

// MarkCancelled finalizes an in-progress session without a score.
func (r *SessionGateway) MarkCancelled(ctx context.Context, sessionID uuid.UUID, completedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, completed_at = $2, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		model.SessionStatusCancelled, completedAt, sessionID, model.SessionStatusInProgress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.finalized(ctx, sessionID, model.SessionStatusCancelled)
	}
	return nil
}

// finalized explains a finalize that matched no in-progress row. Repeating
// the stored outcome succeeds.
func (r *SessionGateway) finalized(ctx context.Context, sessionID uuid.UUID, want model.SessionStatus) error {
	var status model.SessionStatus
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM exam_sessions WHERE id = $1`, sessionID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, pgx.ErrNoRows)
	}
	if err != nil {
		return err
	}
	if status == want {
		return nil
	}
	return fmt.Errorf("session %s is %s: %w", sessionID, status, session.ErrAlreadyFinalized)
}

// FindInProgressSession returns the user's in-progress session, or nil when
// there is none.
func (r *SessionGateway) FindInProgressSession(ctx context.Context, userID int) (*model.SessionSnapshot, error) {
	s := &model.SessionSnapshot{}
	err := r.pool.QueryRow(ctx,
		`SELECT s.id, s.user_id, s.exam_set_id, e.name, s.total_questions,
		        s.current_index, s.time_left, s.time_mode, s.selected_parts, s.time_budget,
		        s.started_at, s.updated_at,
		        (SELECT COUNT(*) FROM session_answers a WHERE a.session_id = s.id)
		 FROM exam_sessions s
		 JOIN exam_sets e ON e.id = s.exam_set_id
		 WHERE s.user_id = $1 AND s.status = $2
		 ORDER BY s.started_at DESC
		 LIMIT 1`, userID, model.SessionStatusInProgress,
	).Scan(&s.SessionID, &s.UserID, &s.ExamSetID, &s.ExamSetName, &s.TotalQuestions,
		&s.CurrentIndex, &s.TimeLeft, &s.Meta.TimeMode, &s.Meta.SelectedParts, &s.Meta.TimeBudget,
		&s.StartedAt, &s.UpdatedAt, &s.AnsweredCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LoadAnswers returns the persisted answers of a session.
func (r *SessionGateway) LoadAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer, time_spent_ms
		 FROM session_answers
		 WHERE session_id = $1
		 ORDER BY updated_at, question_id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.AnswerEntry
	for rows.Next() {
		var a model.AnswerEntry
		if err := rows.Scan(&a.QuestionID, &a.Answer, &a.TimeSpentMs); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
