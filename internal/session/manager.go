package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/budget"
	"github.com/stemsi/exam-session/internal/metrics"
	"github.com/stemsi/exam-session/internal/model"
)

// DefaultTeardownTimeout bounds the best-effort flush on teardown.
const DefaultTeardownTimeout = 3 * time.Second

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	AutosaveInterval time.Duration
	TeardownTimeout  time.Duration
	// IdleTTL bounds how long a Registry keeps a manager with no session.
	IdleTTL time.Duration
	// Now is the clock used for timestamps and wall-clock elapsed time.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = DefaultAutosaveInterval
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = DefaultTeardownTimeout
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = DefaultIdleTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Manager owns at most one live session for a single user and is the only
// writer to the Gateway for it.
//
// In-memory mutations (answers, cursor, time) are synchronous and never block
// on I/O. Flushing to the gateway is the only slow path: at most one
// checkpoint is in flight at a time and overlapping auto-saves are skipped.
// Complete and cancel wait for the flush in flight before writing.
type Manager struct {
	userID  int
	gateway Gateway
	calc    *budget.Calculator
	opts    Options
	log     zerolog.Logger

	// opMu serializes create, restore, complete and cancel.
	opMu sync.Mutex

	mu  sync.Mutex
	cur *State
	// version counts in-memory mutations; flushed is the version last
	// written successfully.
	version uint64
	flushed uint64
	sched   *scheduler

	// flushSlot holds a token while a checkpoint is being written.
	flushSlot chan struct{}
}

// NewManager creates a Manager for userID.
func NewManager(userID int, gateway Gateway, calc *budget.Calculator, log zerolog.Logger, opts Options) *Manager {
	return &Manager{
		userID:  userID,
		gateway: gateway,
		calc:    calc,
		opts:    opts.withDefaults(),
		log: log.With().
			Str("component", "session_manager").
			Int("user_id", userID).
			Logger(),
		flushSlot: make(chan struct{}, 1),
	}
}

// UserID returns the user this manager belongs to.
func (m *Manager) UserID() int {
	return m.userID
}

// CreateSession starts a new session. The session only exists locally once
// the store has accepted it; a store failure is returned as a
// *PersistenceError and leaves the manager empty.
func (m *Manager) CreateSession(ctx context.Context, examSet model.ExamSet, questions []model.Question, selectedParts []int, mode model.TimeMode) (uuid.UUID, error) {
	if !mode.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown time mode %q", ErrInvalidInput, mode)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.HasActiveSession() {
		return uuid.Nil, ErrAlreadyActive
	}

	parts := slices.Clone(selectedParts)
	slices.Sort(parts)
	parts = slices.Compact(parts)

	qs := slices.Clone(questions)
	timeBudget := m.calc.Compute(qs, parts, mode)
	total := len(budget.Scoped(qs, parts))
	startedAt := m.opts.Now()

	sessionID, err := m.gateway.CreateSession(ctx, m.userID, examSet.ID, total, startedAt, model.SessionMeta{
		TimeMode:      mode,
		SelectedParts: parts,
		TimeBudget:    timeBudget,
	})
	if err != nil {
		m.log.Error().Err(err).Str("exam_set_id", examSet.ID.String()).Msg("Create session failed")
		return uuid.Nil, persistErr("create_session", err)
	}

	st := &State{
		SessionID:     sessionID,
		UserID:        m.userID,
		ExamSetID:     examSet.ID,
		ExamSetName:   examSet.Name,
		Questions:     qs,
		Answers:       NewLedger(),
		TimeLeft:      timeBudget,
		TimeBudget:    timeBudget,
		SelectedParts: parts,
		TimeMode:      mode,
		IsStarted:     true,
		StartedAt:     startedAt,
	}
	m.attach(st)

	m.log.Info().
		Str("session_id", sessionID.String()).
		Int("total_questions", total).
		Int("time_budget", timeBudget).
		Str("time_mode", string(mode)).
		Msg("Session created")

	return sessionID, nil
}

// Restore re-attaches a session found in the store, keeping its persisted
// cursor and remaining time. Restoring the session that is already live is a
// no-op.
func (m *Manager) Restore(ctx context.Context, snap *model.SessionSnapshot, examSetName string, questions []model.Question) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidInput)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	cur := m.cur
	m.mu.Unlock()
	if cur != nil {
		if cur.SessionID == snap.SessionID {
			return nil
		}
		return ErrAlreadyActive
	}

	answers, err := m.gateway.LoadAnswers(ctx, snap.SessionID)
	if err != nil {
		return persistErr("load_answers", err)
	}

	ledger := NewLedger()
	for _, a := range answers {
		ledger.Upsert(a.QuestionID, a.Answer, a.TimeSpentMs)
	}

	mode := snap.Meta.TimeMode
	if !mode.Valid() {
		mode = model.TimeModeStandard
	}
	timeLeft := snap.TimeLeft
	if mode == model.TimeModeUnlimited {
		timeLeft = model.UnlimitedTime
	}

	st := &State{
		SessionID:     snap.SessionID,
		UserID:        m.userID,
		ExamSetID:     snap.ExamSetID,
		ExamSetName:   examSetName,
		Questions:     slices.Clone(questions),
		Answers:       ledger,
		CurrentIndex:  snap.CurrentIndex,
		TimeLeft:      timeLeft,
		TimeBudget:    snap.Meta.TimeBudget,
		SelectedParts: slices.Clone(snap.Meta.SelectedParts),
		TimeMode:      mode,
		IsStarted:     true,
		StartedAt:     snap.StartedAt,
	}
	m.attach(st)

	m.log.Info().
		Str("session_id", snap.SessionID.String()).
		Int("answers", ledger.Len()).
		Int("current_index", snap.CurrentIndex).
		Msg("Session restored")
	return nil
}

func (m *Manager) attach(st *State) {
	m.mu.Lock()
	m.cur = st
	m.version = 0
	m.flushed = 0
	m.sched = startScheduler(m.opts.AutosaveInterval, m.tick)
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()
}

// GetCurrentSession returns a copy of the live session, or nil.
func (m *Manager) GetCurrentSession() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil
	}
	return m.cur.Clone()
}

// HasActiveSession reports whether a session is live.
func (m *Manager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// SaveAnswer records an answer in memory. It reports false, without error,
// when no session is live: UI callbacks may still fire after teardown.
func (m *Manager) SaveAnswer(questionID uuid.UUID, answer string, timeSpentMs int64) bool {
	if timeSpentMs < 0 {
		timeSpentMs = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return false
	}
	m.cur.Answers.Upsert(questionID, answer, timeSpentMs)
	m.version++
	return true
}

// UpdateProgress stores the cursor and the remaining time reported by the
// caller. Unlimited sessions keep their sentinel whatever is reported.
func (m *Manager) UpdateProgress(currentIndex, timeLeft int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return false
	}

	if currentIndex < 0 {
		currentIndex = 0
	}
	if n := len(m.cur.Questions); n > 0 && currentIndex >= n {
		currentIndex = n - 1
	}
	m.cur.CurrentIndex = currentIndex

	if m.cur.Unlimited() {
		m.cur.TimeLeft = model.UnlimitedTime
	} else {
		m.cur.TimeLeft = max(timeLeft, 0)
	}
	m.version++
	return true
}

// SetPaused toggles the advisory pause flag.
func (m *Manager) SetPaused(paused bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return false
	}
	m.cur.IsPaused = paused
	return true
}

type checkpoint struct {
	sessionID    uuid.UUID
	currentIndex int
	timeLeft     int
	answers      []model.AnswerEntry
	version      uint64
}

func (m *Manager) takeCheckpoint() (checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return checkpoint{}, false
	}
	return m.checkpointLocked(), true
}

func (m *Manager) checkpointLocked() checkpoint {
	return checkpoint{
		sessionID:    m.cur.SessionID,
		currentIndex: m.cur.CurrentIndex,
		timeLeft:     m.cur.TimeLeft,
		answers:      slices.Collect(m.cur.Answers.All()),
		version:      m.version,
	}
}

func (m *Manager) writeCheckpoint(ctx context.Context, cp checkpoint) error {
	if len(cp.answers) > 0 {
		if err := m.gateway.UpsertAnswers(ctx, cp.sessionID, cp.answers); err != nil {
			return persistErr("upsert_answers", err)
		}
	}
	if err := m.gateway.UpdateSessionProgress(ctx, cp.sessionID, cp.currentIndex, cp.timeLeft, m.opts.Now()); err != nil {
		return persistErr("update_session_progress", err)
	}
	return nil
}

// AutoSave flushes the full current state to the store. It returns nil when
// there is no session or when another flush is already in flight. Failures
// are logged and returned; the next tick sends the then-current state again.
func (m *Manager) AutoSave(ctx context.Context) error {
	select {
	case m.flushSlot <- struct{}{}:
	default:
		metrics.AutosaveSkippedTotal.WithLabelValues(metrics.SkipInFlight).Inc()
		m.log.Debug().Msg("Auto-save skipped, flush in flight")
		return nil
	}
	defer m.releaseFlush()

	cp, ok := m.takeCheckpoint()
	if !ok {
		return nil
	}

	start := time.Now()
	err := m.writeCheckpoint(ctx, cp)
	metrics.AutosaveFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AutosaveFlushTotal.WithLabelValues(metrics.ResultError).Inc()
		m.log.Error().Err(err).
			Str("session_id", cp.sessionID.String()).
			Int("answers", len(cp.answers)).
			Msg("Auto-save failed")
		return err
	}
	metrics.AutosaveFlushTotal.WithLabelValues(metrics.ResultOK).Inc()

	m.mu.Lock()
	if m.cur != nil && m.cur.SessionID == cp.sessionID && cp.version > m.flushed {
		m.flushed = cp.version
	}
	m.mu.Unlock()

	m.log.Debug().
		Str("session_id", cp.sessionID.String()).
		Int("answers", len(cp.answers)).
		Msg("Auto-saved")
	return nil
}

// awaitFlush waits for the checkpoint in flight, if any, and keeps others
// out until releaseFlush.
func (m *Manager) awaitFlush(ctx context.Context) error {
	select {
	case m.flushSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) releaseFlush() {
	<-m.flushSlot
}

// dirty reports whether the live session has changes not yet flushed.
func (m *Manager) dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil && m.version != m.flushed
}

func (m *Manager) tick(ctx context.Context) {
	if !m.dirty() {
		metrics.AutosaveSkippedTotal.WithLabelValues(metrics.SkipClean).Inc()
		return
	}
	_ = m.AutoSave(ctx)
}

// FlushOnTeardown makes one synchronous, bounded, best-effort flush. Errors
// are logged only.
func (m *Manager) FlushOnTeardown() {
	if !m.HasActiveSession() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.TeardownTimeout)
	defer cancel()
	if err := m.AutoSave(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Teardown flush failed")
	}
}

// CompleteSession scores the live session, writes a final checkpoint and the
// completed record, then discards the session. With no live session it
// returns nil, nil. On a store failure the session stays live so the caller
// can retry. A session the store already holds as cancelled is dropped and
// ErrAlreadyFinalized is returned.
func (m *Manager) CompleteSession(ctx context.Context) (*model.SessionResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	sched := m.detachScheduler()
	if !m.HasActiveSession() {
		return nil, nil
	}
	if err := m.awaitFlush(ctx); err != nil {
		m.reattachScheduler(sched)
		return nil, persistErr("await_flush", err)
	}
	defer m.releaseFlush()

	m.mu.Lock()
	cp := m.checkpointLocked()
	correct := m.cur.CorrectCount()
	total := m.cur.TotalQuestions()
	now := m.opts.Now()
	elapsed := m.cur.Elapsed(now)
	m.mu.Unlock()

	score := Score(correct, total)

	err := m.writeCheckpoint(ctx, cp)
	if err == nil {
		err = m.gateway.MarkCompleted(ctx, cp.sessionID, correct, score, elapsed, now)
		if errors.Is(err, ErrAlreadyFinalized) {
			m.log.Warn().Err(err).Str("session_id", cp.sessionID.String()).Msg("Session finalized elsewhere, dropping")
			m.release()
			return nil, err
		}
		err = persistErr("mark_completed", err)
	}
	if err != nil {
		m.log.Error().Err(err).Str("session_id", cp.sessionID.String()).Msg("Complete session failed")
		m.reattachScheduler(sched)
		return nil, err
	}

	m.discard(metrics.OutcomeCompleted)

	m.log.Info().
		Str("session_id", cp.sessionID.String()).
		Int("correct", correct).
		Int("total", total).
		Int("score", score).
		Int("time_spent", elapsed).
		Msg("Session completed")

	return &model.SessionResult{
		SessionID:        cp.sessionID,
		CorrectAnswers:   correct,
		TotalQuestions:   total,
		Score:            score,
		TimeSpentSeconds: elapsed,
		CompletedAt:      now,
	}, nil
}

// CancelSession writes the cancelled record and discards the live session.
// No score is computed. It is a no-op without a live session. A session the
// store already holds as completed keeps its record and is only dropped.
func (m *Manager) CancelSession(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	sched := m.detachScheduler()
	if !m.HasActiveSession() {
		return nil
	}
	if err := m.awaitFlush(ctx); err != nil {
		m.reattachScheduler(sched)
		return persistErr("await_flush", err)
	}
	defer m.releaseFlush()

	m.mu.Lock()
	sessionID := m.cur.SessionID
	m.mu.Unlock()

	err := m.gateway.MarkCancelled(ctx, sessionID, m.opts.Now())
	if errors.Is(err, ErrAlreadyFinalized) {
		m.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Session finalized elsewhere, dropping")
		m.release()
		return nil
	}
	if err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Cancel session failed")
		m.reattachScheduler(sched)
		return persistErr("mark_cancelled", err)
	}

	m.discard(metrics.OutcomeCancelled)
	m.log.Info().Str("session_id", sessionID.String()).Msg("Session cancelled")
	return nil
}

// DiscardPersisted cancels a session that exists only in the store. It
// refuses to touch the live session; use CancelSession for that. A session
// that is already finalized is left as it is.
func (m *Manager) DiscardPersisted(ctx context.Context, sessionID uuid.UUID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	live := m.cur != nil && m.cur.SessionID == sessionID
	m.mu.Unlock()
	if live {
		return fmt.Errorf("%w: session %s is live", ErrInvalidInput, sessionID)
	}

	err := m.gateway.MarkCancelled(ctx, sessionID, m.opts.Now())
	if errors.Is(err, ErrAlreadyFinalized) {
		m.log.Info().Str("session_id", sessionID.String()).Msg("Persisted session already finalized")
		return nil
	}
	if err != nil {
		return persistErr("mark_cancelled", err)
	}
	metrics.SessionsFinalizedTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
	m.log.Info().Str("session_id", sessionID.String()).Msg("Persisted session discarded")
	return nil
}

// FindInProgress looks up a session to resume in the store.
func (m *Manager) FindInProgress(ctx context.Context) (*model.SessionSnapshot, error) {
	snap, err := m.gateway.FindInProgressSession(ctx, m.userID)
	if err != nil {
		return nil, persistErr("find_in_progress_session", err)
	}
	return snap, nil
}

// Close stops the auto-save scheduler without finalizing the session. The
// session stays resumable from the store.
func (m *Manager) Close() {
	m.detachScheduler()
}

func (m *Manager) detachScheduler() *scheduler {
	m.mu.Lock()
	s := m.sched
	m.sched = nil
	m.mu.Unlock()
	s.stop()
	return s
}

func (m *Manager) reattachScheduler(prev *scheduler) {
	if prev == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil && m.sched == nil {
		m.sched = startScheduler(m.opts.AutosaveInterval, m.tick)
	}
}

func (m *Manager) discard(outcome string) {
	m.release()
	metrics.SessionsFinalizedTotal.WithLabelValues(outcome).Inc()
}

// release drops the live session without recording an outcome.
func (m *Manager) release() {
	m.mu.Lock()
	m.cur = nil
	m.version = 0
	m.flushed = 0
	m.mu.Unlock()
	metrics.ActiveSessions.Dec()
}
