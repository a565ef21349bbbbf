package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/session"
)

// Domain Errors
var (
	ErrExamSetNotFound = errors.New("exam set not found")
	ErrNothingToResume = errors.New("no session to resume")
)

// ExamSessionService exposes the per-user session managers and their
// resume and exit flows to the transport layer.
type ExamSessionService struct {
	registry  *session.Registry
	questions session.QuestionSource
	log       zerolog.Logger

	mu      sync.Mutex
	resumes map[int]*session.ResumePrompt
	exits   map[int]*session.ExitConfirmation
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(registry *session.Registry, questions session.QuestionSource, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		registry:  registry,
		questions: questions,
		log:       log.With().Str("component", "exam_session_service").Logger(),
		resumes:   make(map[int]*session.ResumePrompt),
		exits:     make(map[int]*session.ExitConfirmation),
	}
}

// Create starts a session on the given exam set.
func (s *ExamSessionService) Create(ctx context.Context, userID int, req model.CreateSessionRequest) (*session.SessionView, error) {
	set, err := s.questions.ExamSet(ctx, req.ExamSetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamSetNotFound
		}
		return nil, fmt.Errorf("load exam set: %w", err)
	}
	questions, err := s.questions.Questions(ctx, req.ExamSetID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	mgr := s.registry.Manager(userID)
	if _, err := mgr.CreateSession(ctx, *set, questions, req.SelectedParts, req.TimeMode); err != nil {
		return nil, err
	}
	s.dropPrompts(userID)
	return s.Current(userID), nil
}

// Current returns the user's live session, or nil.
func (s *ExamSessionService) Current(userID int) *session.SessionView {
	cur := s.registry.Manager(userID).GetCurrentSession()
	if cur == nil {
		return nil
	}
	v := cur.View()
	return &v
}

// SaveAnswer records an answer in memory.
func (s *ExamSessionService) SaveAnswer(userID int, req model.SaveAnswerRequest) error {
	if !s.registry.Manager(userID).SaveAnswer(req.QuestionID, req.Answer, req.TimeSpentMs) {
		return session.ErrNoActiveSession
	}
	return nil
}

// UpdateProgress records the cursor and remaining time in memory.
func (s *ExamSessionService) UpdateProgress(userID int, req model.UpdateProgressRequest) error {
	if !s.registry.Manager(userID).UpdateProgress(req.CurrentIndex, req.TimeLeft) {
		return session.ErrNoActiveSession
	}
	return nil
}

// SetPaused toggles the pause flag of the live session.
func (s *ExamSessionService) SetPaused(userID int, paused bool) error {
	if !s.registry.Manager(userID).SetPaused(paused) {
		return session.ErrNoActiveSession
	}
	return nil
}

// AutoSave flushes the live session now.
func (s *ExamSessionService) AutoSave(ctx context.Context, userID int) error {
	mgr := s.registry.Manager(userID)
	if !mgr.HasActiveSession() {
		return session.ErrNoActiveSession
	}
	return mgr.AutoSave(ctx)
}

// Complete scores and finalizes the live session.
func (s *ExamSessionService) Complete(ctx context.Context, userID int) (*model.SessionResult, error) {
	res, err := s.registry.Manager(userID).CompleteSession(ctx)
	if errors.Is(err, session.ErrAlreadyFinalized) {
		s.dropPrompts(userID)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, session.ErrNoActiveSession
	}
	s.dropPrompts(userID)
	return res, nil
}

// Cancel abandons the live session. Without one it does nothing.
func (s *ExamSessionService) Cancel(ctx context.Context, userID int) error {
	if err := s.registry.Manager(userID).CancelSession(ctx); err != nil {
		return err
	}
	s.dropPrompts(userID)
	return nil
}

// FlushOnTeardown is called when the user's page goes away.
func (s *ExamSessionService) FlushOnTeardown(userID int) {
	s.registry.Manager(userID).FlushOnTeardown()
}

// OpenResumePrompt looks for a session to resume and keeps the prompt open
// until it is decided.
func (s *ExamSessionService) OpenResumePrompt(ctx context.Context, userID int) (*session.ResumeView, error) {
	p, err := session.NewResumePrompt(ctx, s.registry.Manager(userID), s.questions)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		delete(s.resumes, userID)
		return nil, nil
	}
	s.resumes[userID] = p
	v := p.View()
	return &v, nil
}

// Resume resolves the open resume prompt by continuing the session.
func (s *ExamSessionService) Resume(ctx context.Context, userID int) (*session.SessionView, error) {
	p, err := s.resumePrompt(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := p.Resume(ctx); err != nil {
		return nil, err
	}
	s.log.Info().Int("user_id", userID).Str("session_id", p.View().SessionID.String()).Msg("Session resumed")
	return s.Current(userID), nil
}

// StartNew resolves the open resume prompt by cancelling the found session.
func (s *ExamSessionService) StartNew(ctx context.Context, userID int) error {
	p, err := s.resumePrompt(ctx, userID)
	if err != nil {
		return err
	}
	if err := p.StartNew(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.exits, userID)
	s.mu.Unlock()
	return nil
}

func (s *ExamSessionService) resumePrompt(ctx context.Context, userID int) (*session.ResumePrompt, error) {
	s.mu.Lock()
	p, ok := s.resumes[userID]
	s.mu.Unlock()
	// A prompt whose manager has since been pruned is opened again.
	if ok && p.Owner() == s.registry.Manager(userID) {
		return p, nil
	}
	if _, err := s.OpenResumePrompt(ctx, userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.resumes[userID]; !ok {
		return nil, ErrNothingToResume
	}
	return p, nil
}

// OpenExitConfirmation shows the exit dialog for the live session.
func (s *ExamSessionService) OpenExitConfirmation(userID int) (*session.ExitView, error) {
	e, err := session.NewExitConfirmation(s.registry.Manager(userID))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.exits[userID] = e
	s.mu.Unlock()
	v := e.View()
	return &v, nil
}

// ConfirmExit resolves the exit dialog by cancelling the session.
func (s *ExamSessionService) ConfirmExit(ctx context.Context, userID int) error {
	e, err := s.exitConfirmation(userID)
	if err != nil {
		return err
	}
	if err := e.Confirm(ctx); err != nil {
		return err
	}
	s.dropResume(userID)
	return nil
}

// DismissExit closes the exit dialog without touching the session.
func (s *ExamSessionService) DismissExit(userID int) error {
	e, err := s.exitConfirmation(userID)
	if err != nil {
		return err
	}
	return e.Cancel()
}

func (s *ExamSessionService) exitConfirmation(userID int) (*session.ExitConfirmation, error) {
	s.mu.Lock()
	e, ok := s.exits[userID]
	s.mu.Unlock()
	if ok {
		return e, nil
	}
	if _, err := s.OpenExitConfirmation(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exits[userID], nil
}

func (s *ExamSessionService) dropPrompts(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resumes, userID)
	delete(s.exits, userID)
}

func (s *ExamSessionService) dropResume(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resumes, userID)
}
