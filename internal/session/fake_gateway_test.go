package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/budget"
	"github.com/stemsi/exam-session/internal/model"
)

var errStoreDown = errors.New("store unavailable")

type fakeRecord struct {
	userID         int
	examSetID      uuid.UUID
	totalQuestions int
	meta           model.SessionMeta
	status         model.SessionStatus
	currentIndex   int
	timeLeft       int
	correct        int
	score          int
	timeSpent      int
	startedAt      time.Time
	completedAt    time.Time
	answers        map[uuid.UUID]model.AnswerEntry
}

type fakeGateway struct {
	mu      sync.Mutex
	records map[uuid.UUID]*fakeRecord
	order   []uuid.UUID
	names   map[uuid.UUID]string

	failCreate   error
	failUpsert   error
	failProgress error
	failComplete error
	failCancel   error
	// lostAck is returned by a finalize that has already been applied.
	lostAck error

	// upsertGate, when set, blocks UpsertAnswers until it is closed;
	// upsertEntered receives once per call that reaches the gate.
	upsertGate    chan struct{}
	upsertEntered chan struct{}

	creates   int
	upserts   int
	progress  int
	completes int
	cancels   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		records: make(map[uuid.UUID]*fakeRecord),
		names:   make(map[uuid.UUID]string),
	}
}

func (g *fakeGateway) CreateSession(_ context.Context, userID int, examSetID uuid.UUID, total int, startedAt time.Time, meta model.SessionMeta) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.failCreate != nil {
		return uuid.Nil, g.failCreate
	}
	id := uuid.New()
	g.records[id] = &fakeRecord{
		userID:         userID,
		examSetID:      examSetID,
		totalQuestions: total,
		meta:           meta,
		status:         model.SessionStatusInProgress,
		timeLeft:       meta.TimeBudget,
		startedAt:      startedAt,
		answers:        make(map[uuid.UUID]model.AnswerEntry),
	}
	g.order = append(g.order, id)
	return id, nil
}

func (g *fakeGateway) UpdateSessionProgress(_ context.Context, id uuid.UUID, idx, timeLeft int, _ time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.progress++
	if g.failProgress != nil {
		return g.failProgress
	}
	rec, ok := g.records[id]
	if !ok || rec.status != model.SessionStatusInProgress {
		return nil
	}
	rec.currentIndex = idx
	rec.timeLeft = timeLeft
	return nil
}

func (g *fakeGateway) UpsertAnswers(ctx context.Context, id uuid.UUID, answers []model.AnswerEntry) error {
	g.mu.Lock()
	gate, entered := g.upsertGate, g.upsertEntered
	g.mu.Unlock()
	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.upserts++
	if g.failUpsert != nil {
		return g.failUpsert
	}
	rec, ok := g.records[id]
	if !ok {
		return errors.New("unknown session")
	}
	if rec.status != model.SessionStatusInProgress {
		return nil
	}
	for _, a := range answers {
		rec.answers[a.QuestionID] = a
	}
	return nil
}

func (g *fakeGateway) MarkCompleted(_ context.Context, id uuid.UUID, correct, score, timeSpent int, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completes++
	if g.failComplete != nil {
		return g.failComplete
	}
	return g.finalize(id, model.SessionStatusCompleted, at, func(rec *fakeRecord) {
		rec.correct = correct
		rec.score = score
		rec.timeSpent = timeSpent
	})
}

func (g *fakeGateway) MarkCancelled(_ context.Context, id uuid.UUID, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels++
	if g.failCancel != nil {
		return g.failCancel
	}
	return g.finalize(id, model.SessionStatusCancelled, at, nil)
}

// finalize must be called with g.mu held.
func (g *fakeGateway) finalize(id uuid.UUID, status model.SessionStatus, at time.Time, apply func(*fakeRecord)) error {
	rec, ok := g.records[id]
	if !ok {
		return errors.New("unknown session")
	}
	switch rec.status {
	case model.SessionStatusInProgress:
	case status:
		return nil
	default:
		return ErrAlreadyFinalized
	}
	rec.status = status
	rec.completedAt = at
	if apply != nil {
		apply(rec)
	}
	return g.lostAck
}

func (g *fakeGateway) FindInProgressSession(_ context.Context, userID int) (*model.SessionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.order) - 1; i >= 0; i-- {
		id := g.order[i]
		rec := g.records[id]
		if rec.userID != userID || rec.status != model.SessionStatusInProgress {
			continue
		}
		return &model.SessionSnapshot{
			SessionID:      id,
			UserID:         userID,
			ExamSetID:      rec.examSetID,
			ExamSetName:    g.names[rec.examSetID],
			TotalQuestions: rec.totalQuestions,
			CurrentIndex:   rec.currentIndex,
			TimeLeft:       rec.timeLeft,
			AnsweredCount:  len(rec.answers),
			Meta:           rec.meta,
			StartedAt:      rec.startedAt,
		}, nil
	}
	return nil, nil
}

func (g *fakeGateway) LoadAnswers(_ context.Context, id uuid.UUID) ([]model.AnswerEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[id]
	if !ok {
		return nil, nil
	}
	out := make([]model.AnswerEntry, 0, len(rec.answers))
	for _, a := range rec.answers {
		out = append(out, a)
	}
	return out, nil
}

func (g *fakeGateway) record(id uuid.UUID) fakeRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := *g.records[id]
	rec.answers = make(map[uuid.UUID]model.AnswerEntry, len(g.records[id].answers))
	for k, v := range g.records[id].answers {
		rec.answers[k] = v
	}
	return rec
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) counts() (creates, upserts, progress, completes, cancels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.upserts, g.progress, g.completes, g.cancels
}

type fakeQuestions struct {
	sets      map[uuid.UUID]model.ExamSet
	questions map[uuid.UUID][]model.Question
}

func (f *fakeQuestions) ExamSet(_ context.Context, id uuid.UUID) (*model.ExamSet, error) {
	set, ok := f.sets[id]
	if !ok {
		return nil, errors.New("exam set not found")
	}
	return &set, nil
}

func (f *fakeQuestions) Questions(_ context.Context, id uuid.UUID) ([]model.Question, error) {
	return f.questions[id], nil
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testQuestions(n int, parts ...int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		part := 1
		if i < len(parts) {
			part = parts[i]
		}
		qs[i] = model.Question{ID: uuid.New(), Part: part, CorrectChoice: "A", OrderNum: i}
	}
	return qs
}

func testExamSet() model.ExamSet {
	return model.ExamSet{ID: uuid.New(), Name: "Mock Test 1"}
}

func testCalculator() *budget.Calculator {
	return budget.NewCalculator(budget.Table{DefaultSeconds: 60, Parts: map[int]int{2: 45}})
}

// newTestManager returns a manager whose scheduler never fires during a test.
func newTestManager(gw Gateway, clock *testClock) *Manager {
	opts := Options{AutosaveInterval: time.Hour}
	if clock != nil {
		opts.Now = clock.Now
	}
	return NewManager(42, gw, testCalculator(), zerolog.New(io.Discard), opts)
}
