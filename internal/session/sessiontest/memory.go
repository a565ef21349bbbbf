// Package sessiontest provides in-memory implementations of the session
// store interfaces for tests.
package sessiontest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/session"
)

// Record is the stored state of one session.
type Record struct {
	Snapshot    model.SessionSnapshot
	Status      model.SessionStatus
	Correct     int
	Score       int
	TimeSpent   int
	CompletedAt time.Time
	Answers     []model.AnswerEntry
}

// Gateway is an in-memory session.Gateway. Setting Fail makes every write
// return it.
type Gateway struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	order   []uuid.UUID
	names   map[uuid.UUID]string
	Fail    error
}

var _ session.Gateway = (*Gateway)(nil)

// NewGateway returns an empty Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		records: make(map[uuid.UUID]*Record),
		names:   make(map[uuid.UUID]string),
	}
}

// NameExamSet sets the name reported for examSetID by resume lookups.
func (g *Gateway) NameExamSet(examSetID uuid.UUID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.names[examSetID] = name
}

// SetFail sets the error returned by writes.
func (g *Gateway) SetFail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Fail = err
}

// Record returns a copy of the stored session.
func (g *Gateway) Record(id uuid.UUID) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[id]
	if !ok {
		return Record{}, false
	}
	c := *rec
	c.Answers = slices.Clone(rec.Answers)
	return c, true
}

func (g *Gateway) CreateSession(_ context.Context, userID int, examSetID uuid.UUID, total int, startedAt time.Time, meta model.SessionMeta) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return uuid.Nil, g.Fail
	}
	for _, rec := range g.records {
		if rec.Snapshot.UserID == userID && rec.Status == model.SessionStatusInProgress {
			return uuid.Nil, session.ErrAlreadyActive
		}
	}
	id := uuid.New()
	g.records[id] = &Record{
		Snapshot: model.SessionSnapshot{
			SessionID:      id,
			UserID:         userID,
			ExamSetID:      examSetID,
			TotalQuestions: total,
			TimeLeft:       meta.TimeBudget,
			Meta:           meta,
			StartedAt:      startedAt,
			UpdatedAt:      startedAt,
		},
		Status: model.SessionStatusInProgress,
	}
	g.order = append(g.order, id)
	return id, nil
}

func (g *Gateway) UpdateSessionProgress(_ context.Context, id uuid.UUID, idx, left int, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return g.Fail
	}
	rec, ok := g.records[id]
	if !ok || rec.Status != model.SessionStatusInProgress {
		return nil
	}
	rec.Snapshot.CurrentIndex = idx
	rec.Snapshot.TimeLeft = left
	rec.Snapshot.UpdatedAt = at
	return nil
}

func (g *Gateway) UpsertAnswers(_ context.Context, id uuid.UUID, answers []model.AnswerEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return g.Fail
	}
	rec, ok := g.records[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if rec.Status != model.SessionStatusInProgress {
		return nil
	}
	for _, a := range answers {
		i := slices.IndexFunc(rec.Answers, func(e model.AnswerEntry) bool { return e.QuestionID == a.QuestionID })
		if i >= 0 {
			rec.Answers[i] = a
			continue
		}
		rec.Answers = append(rec.Answers, a)
	}
	return nil
}

func (g *Gateway) MarkCompleted(_ context.Context, id uuid.UUID, correct, score, timeSpent int, at time.Time) error {
	return g.finalize(id, at, model.SessionStatusCompleted, func(rec *Record) {
		rec.Correct = correct
		rec.Score = score
		rec.TimeSpent = timeSpent
	})
}

func (g *Gateway) MarkCancelled(_ context.Context, id uuid.UUID, at time.Time) error {
	return g.finalize(id, at, model.SessionStatusCancelled, nil)
}

// finalize moves an in-progress record to status. A record that already
// holds status is left as is; any other finalized record is refused.
func (g *Gateway) finalize(id uuid.UUID, at time.Time, status model.SessionStatus, apply func(*Record)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return g.Fail
	}
	rec, ok := g.records[id]
	if !ok {
		return pgx.ErrNoRows
	}
	switch rec.Status {
	case model.SessionStatusInProgress:
	case status:
		return nil
	default:
		return session.ErrAlreadyFinalized
	}
	rec.Status = status
	if apply != nil {
		apply(rec)
	}
	rec.CompletedAt = at
	return nil
}

func (g *Gateway) FindInProgressSession(_ context.Context, userID int) (*model.SessionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range slices.Backward(g.order) {
		rec := g.records[id]
		if rec.Snapshot.UserID != userID || rec.Status != model.SessionStatusInProgress {
			continue
		}
		snap := rec.Snapshot
		snap.ExamSetName = g.names[snap.ExamSetID]
		snap.AnsweredCount = len(rec.Answers)
		snap.Meta.SelectedParts = slices.Clone(snap.Meta.SelectedParts)
		return &snap, nil
	}
	return nil, nil
}

func (g *Gateway) LoadAnswers(_ context.Context, id uuid.UUID) ([]model.AnswerEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[id]
	if !ok {
		return nil, nil
	}
	return slices.Clone(rec.Answers), nil
}

// Questions is an in-memory session.QuestionSource.
type Questions struct {
	mu        sync.Mutex
	sets      map[uuid.UUID]model.ExamSet
	questions map[uuid.UUID][]model.Question
}

var _ session.QuestionSource = (*Questions)(nil)

// NewQuestions returns an empty question bank.
func NewQuestions() *Questions {
	return &Questions{
		sets:      make(map[uuid.UUID]model.ExamSet),
		questions: make(map[uuid.UUID][]model.Question),
	}
}

// Add stores an exam set with n questions whose correct choice is "A". Parts
// are taken from parts in order, defaulting to 1.
func (q *Questions) Add(name string, n int, parts ...int) (model.ExamSet, []model.Question) {
	set := model.ExamSet{ID: uuid.New(), Name: name}
	qs := make([]model.Question, n)
	for i := range qs {
		part := 1
		if i < len(parts) {
			part = parts[i]
		}
		qs[i] = model.Question{ID: uuid.New(), Part: part, Kind: "multiple_choice", CorrectChoice: "A", OrderNum: i}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sets[set.ID] = set
	q.questions[set.ID] = qs
	return set, slices.Clone(qs)
}

func (q *Questions) ExamSet(_ context.Context, id uuid.UUID) (*model.ExamSet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set, ok := q.sets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &set, nil
}

func (q *Questions) Questions(_ context.Context, id uuid.UUID) ([]model.Question, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.questions[id]), nil
}
