package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/session"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// memStore is an in-memory session store that counts reads.
type memStore struct {
	mu        sync.Mutex
	snaps     map[uuid.UUID]*model.SessionSnapshot
	status    map[uuid.UUID]model.SessionStatus
	answers   map[uuid.UUID]map[uuid.UUID]model.AnswerEntry
	findCalls int
	loadCalls int
	failWrite error

	// afterFind runs once, outside the lock, after the next in-progress lookup.
	afterFind func()
	// beforeFinalize runs once, outside the lock, before the next finalize.
	beforeFinalize func()
}

func newMemStore() *memStore {
	return &memStore{
		snaps:   make(map[uuid.UUID]*model.SessionSnapshot),
		status:  make(map[uuid.UUID]model.SessionStatus),
		answers: make(map[uuid.UUID]map[uuid.UUID]model.AnswerEntry),
	}
}

func (s *memStore) CreateSession(_ context.Context, userID int, examSetID uuid.UUID, total int, startedAt time.Time, meta model.SessionMeta) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.snaps[id] = &model.SessionSnapshot{
		SessionID:      id,
		UserID:         userID,
		ExamSetID:      examSetID,
		ExamSetName:    "Mock Test 1",
		TotalQuestions: total,
		TimeLeft:       meta.TimeBudget,
		Meta:           meta,
		StartedAt:      startedAt,
		UpdatedAt:      startedAt,
	}
	s.status[id] = model.SessionStatusInProgress
	s.answers[id] = make(map[uuid.UUID]model.AnswerEntry)
	return id, nil
}

func (s *memStore) UpdateSessionProgress(_ context.Context, id uuid.UUID, idx, left int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	if s.status[id] != model.SessionStatusInProgress {
		return nil
	}
	snap := s.snaps[id]
	snap.CurrentIndex = idx
	snap.TimeLeft = left
	snap.UpdatedAt = at
	return nil
}

func (s *memStore) UpsertAnswers(_ context.Context, id uuid.UUID, answers []model.AnswerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	if s.status[id] != model.SessionStatusInProgress {
		return nil
	}
	for _, a := range answers {
		s.answers[id][a.QuestionID] = a
	}
	return nil
}

func (s *memStore) MarkCompleted(_ context.Context, id uuid.UUID, _, _, _ int, _ time.Time) error {
	return s.finalize(id, model.SessionStatusCompleted)
}

func (s *memStore) MarkCancelled(_ context.Context, id uuid.UUID, _ time.Time) error {
	return s.finalize(id, model.SessionStatusCancelled)
}

func (s *memStore) finalize(id uuid.UUID, status model.SessionStatus) error {
	s.mu.Lock()
	hook := s.beforeFinalize
	s.beforeFinalize = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[id]; !ok {
		return errors.New("unknown session")
	}
	switch s.status[id] {
	case model.SessionStatusInProgress:
	case status:
		return nil
	default:
		return session.ErrAlreadyFinalized
	}
	s.status[id] = status
	return nil
}

func (s *memStore) FindInProgressSession(_ context.Context, userID int) (*model.SessionSnapshot, error) {
	snap := s.findInProgress(userID)

	s.mu.Lock()
	hook := s.afterFind
	s.afterFind = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return snap, nil
}

func (s *memStore) findInProgress(userID int) *model.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	for id, snap := range s.snaps {
		if snap.UserID == userID && s.status[id] == model.SessionStatusInProgress {
			c := *snap
			c.AnsweredCount = len(s.answers[id])
			return &c
		}
	}
	return nil
}

func (s *memStore) LoadAnswers(_ context.Context, id uuid.UUID) ([]model.AnswerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
	var out []model.AnswerEntry
	for _, a := range s.answers[id] {
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) calls() (find, load int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls, s.loadCalls
}
