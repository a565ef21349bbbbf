package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-session/internal/model"
)

// ResumeView is what the resume prompt shows.
type ResumeView struct {
	SessionID      uuid.UUID `json:"session_id"`
	ExamSetName    string    `json:"exam_set_name"`
	CurrentIndex   int       `json:"current_index"`
	TotalQuestions int       `json:"total_questions"`
	AnsweredCount  int       `json:"answered_count"`
	TimeLeft       int       `json:"time_left"`
	StartedAt      time.Time `json:"started_at"`
}

// ExitView is what the exit confirmation shows.
type ExitView struct {
	CurrentIndex    int                 `json:"current_index"`
	Questions       []model.Question    `json:"questions"`
	Answers         []model.AnswerEntry `json:"answers"`
	TimeLeft        int                 `json:"time_left"`
	AnsweredCount   int                 `json:"answered_count"`
	TotalQuestions  int                 `json:"total_questions"`
	ProgressPercent int                 `json:"progress_percent"`
}

// SessionView is the presentation-facing summary of a live session.
type SessionView struct {
	SessionID      uuid.UUID        `json:"session_id"`
	ExamSetID      uuid.UUID        `json:"exam_set_id"`
	ExamSetName    string           `json:"exam_set_name"`
	Questions      []model.Question `json:"questions"`
	CurrentIndex   int              `json:"current_index"`
	TotalQuestions int              `json:"total_questions"`
	AnsweredCount  int              `json:"answered_count"`
	TimeLeft       int              `json:"time_left"`
	TimeMode       model.TimeMode   `json:"time_mode"`
	SelectedParts  []int            `json:"selected_parts,omitempty"`
	IsStarted      bool             `json:"is_started"`
	IsPaused       bool             `json:"is_paused"`
	StartedAt      time.Time        `json:"started_at"`
}

// View summarizes s for the presentation layer.
func (s *State) View() SessionView {
	return SessionView{
		SessionID:      s.SessionID,
		ExamSetID:      s.ExamSetID,
		ExamSetName:    s.ExamSetName,
		Questions:      s.Questions,
		CurrentIndex:   s.CurrentIndex,
		TotalQuestions: s.TotalQuestions(),
		AnsweredCount:  s.AnsweredCount(),
		TimeLeft:       s.TimeLeft,
		TimeMode:       s.TimeMode,
		SelectedParts:  s.SelectedParts,
		IsStarted:      s.IsStarted,
		IsPaused:       s.IsPaused,
		StartedAt:      s.StartedAt,
	}
}

func resumeViewFromState(s *State) ResumeView {
	return ResumeView{
		SessionID:      s.SessionID,
		ExamSetName:    s.ExamSetName,
		CurrentIndex:   s.CurrentIndex,
		TotalQuestions: s.TotalQuestions(),
		AnsweredCount:  s.AnsweredCount(),
		TimeLeft:       s.TimeLeft,
		StartedAt:      s.StartedAt,
	}
}

func resumeViewFromSnapshot(snap *model.SessionSnapshot) ResumeView {
	return ResumeView{
		SessionID:      snap.SessionID,
		ExamSetName:    snap.ExamSetName,
		CurrentIndex:   snap.CurrentIndex,
		TotalQuestions: snap.TotalQuestions,
		AnsweredCount:  snap.AnsweredCount,
		TimeLeft:       snap.TimeLeft,
		StartedAt:      snap.StartedAt,
	}
}

func exitViewFromState(s *State) ExitView {
	answered := s.AnsweredCount()
	total := s.TotalQuestions()
	answers := make([]model.AnswerEntry, 0, s.Answers.Len())
	for e := range s.Answers.All() {
		answers = append(answers, e)
	}
	return ExitView{
		CurrentIndex:    s.CurrentIndex,
		Questions:       s.Questions,
		Answers:         answers,
		TimeLeft:        s.TimeLeft,
		AnsweredCount:   answered,
		TotalQuestions:  total,
		ProgressPercent: Score(answered, total),
	}
}

// Decision is the outcome of a prompt.
type Decision string

const (
	DecisionPending   Decision = "pending"
	DecisionResumed   Decision = "resumed"
	DecisionStartNew  Decision = "start_new"
	DecisionDismissed Decision = "dismissed"
	DecisionConfirmed Decision = "confirmed"
)

// prompt holds the one-shot decision shared by both flows. A failed decision
// leaves the prompt pending so the user can retry.
type prompt struct {
	mu       sync.Mutex
	decision Decision
}

func (p *prompt) decide(d Decision, act func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decision != DecisionPending {
		return fmt.Errorf("%w: %s", ErrPromptResolved, p.decision)
	}
	if act != nil {
		if err := act(); err != nil {
			return err
		}
	}
	p.decision = d
	return nil
}

// Decision returns the prompt's current outcome.
func (p *prompt) Decision() Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decision
}

// ResumePrompt offers to continue a session found at startup, either live in
// the manager or persisted in the store.
type ResumePrompt struct {
	prompt
	mgr       *Manager
	questions QuestionSource
	view      ResumeView
	// snap is set when the session only exists in the store.
	snap *model.SessionSnapshot
}

// NewResumePrompt returns nil, nil when there is nothing to resume.
func NewResumePrompt(ctx context.Context, mgr *Manager, questions QuestionSource) (*ResumePrompt, error) {
	p := &ResumePrompt{prompt: prompt{decision: DecisionPending}, mgr: mgr, questions: questions}

	if cur := mgr.GetCurrentSession(); cur != nil {
		p.view = resumeViewFromState(cur)
		return p, nil
	}

	snap, err := mgr.FindInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	p.snap = snap
	p.view = resumeViewFromSnapshot(snap)
	return p, nil
}

// View returns the snapshot shown to the user.
func (p *ResumePrompt) View() ResumeView {
	return p.view
}

// Owner returns the manager the prompt acts on.
func (p *ResumePrompt) Owner() *Manager {
	return p.mgr
}

// Persisted reports whether the session has to be rebuilt from the store.
func (p *ResumePrompt) Persisted() bool {
	return p.snap != nil
}

// Resume re-attaches the session and keeps auto-saving it.
func (p *ResumePrompt) Resume(ctx context.Context) error {
	return p.decide(DecisionResumed, func() error {
		if p.snap == nil {
			if !p.mgr.HasActiveSession() {
				return ErrNoActiveSession
			}
			return nil
		}
		if p.questions == nil {
			return fmt.Errorf("%w: no question source", ErrInvalidInput)
		}
		set, err := p.questions.ExamSet(ctx, p.snap.ExamSetID)
		if err != nil {
			return fmt.Errorf("load exam set: %w", err)
		}
		qs, err := p.questions.Questions(ctx, p.snap.ExamSetID)
		if err != nil {
			return fmt.Errorf("load questions: %w", err)
		}
		return p.mgr.Restore(ctx, p.snap, set.Name, qs)
	})
}

// StartNew cancels the found session so a fresh one can be created.
func (p *ResumePrompt) StartNew(ctx context.Context) error {
	return p.decide(DecisionStartNew, func() error {
		if p.snap == nil {
			return p.mgr.CancelSession(ctx)
		}
		return p.mgr.DiscardPersisted(ctx, p.snap.SessionID)
	})
}

// Dismiss closes the prompt and leaves the session untouched.
func (p *ResumePrompt) Dismiss() error {
	return p.decide(DecisionDismissed, nil)
}

// ExitConfirmation asks the user to confirm leaving a live session.
type ExitConfirmation struct {
	prompt
	mgr  *Manager
	view ExitView
}

// NewExitConfirmation fails with ErrNoActiveSession when nothing is live.
func NewExitConfirmation(mgr *Manager) (*ExitConfirmation, error) {
	cur := mgr.GetCurrentSession()
	if cur == nil {
		return nil, ErrNoActiveSession
	}
	return &ExitConfirmation{
		prompt: prompt{decision: DecisionPending},
		mgr:    mgr,
		view:   exitViewFromState(cur),
	}, nil
}

// View returns the progress shown in the dialog.
func (e *ExitConfirmation) View() ExitView {
	return e.view
}

// Confirm cancels the session.
func (e *ExitConfirmation) Confirm(ctx context.Context) error {
	return e.decide(DecisionConfirmed, func() error {
		return e.mgr.CancelSession(ctx)
	})
}

// Cancel dismisses the dialog without changing anything.
func (e *ExitConfirmation) Cancel() error {
	return e.decide(DecisionDismissed, nil)
}
