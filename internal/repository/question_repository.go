package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/session"
)

var _ session.QuestionSource = (*QuestionRepository)(nil)

// QuestionRepository reads exam sets and their questions.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ExamSet retrieves an exam set by id.
func (r *QuestionRepository) ExamSet(ctx context.Context, id uuid.UUID) (*model.ExamSet, error) {
	e := &model.ExamSet{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name FROM exam_sets WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Questions retrieves all questions of an exam set, ordered by order_num.
func (r *QuestionRepository) Questions(ctx context.Context, examSetID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, part, kind, correct_choice, order_num
		 FROM questions WHERE exam_set_id = $1
		 ORDER BY order_num`, examSetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Part, &q.Kind, &q.CorrectChoice, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateExamSet inserts a new exam set.
func (r *QuestionRepository) CreateExamSet(ctx context.Context, e *model.ExamSet) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sets (name) VALUES ($1) RETURNING id`, e.Name,
	).Scan(&e.ID)
}

// CreateQuestion inserts a new question into an exam set.
func (r *QuestionRepository) CreateQuestion(ctx context.Context, examSetID uuid.UUID, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_set_id, part, kind, correct_choice, order_num)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		examSetID, q.Part, q.Kind, q.CorrectChoice, q.OrderNum,
	).Scan(&q.ID)
}
