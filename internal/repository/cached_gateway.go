package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/session"
)

var _ session.Gateway = (*CachedGateway)(nil)

// CachedGateway puts a CheckpointCache in front of the durable store. Writes
// go to the store first and are then mirrored into the cache; a failed
// mirror invalidates the cached checkpoint. Resume lookups read the cache
// and fall back to the store, healing the cache on a miss. Finalized
// sessions are never left in the cache.
type CachedGateway struct {
	store session.Gateway
	cache *CheckpointCache
	log   zerolog.Logger
}

// NewCachedGateway creates a new CachedGateway.
func NewCachedGateway(store session.Gateway, cache *CheckpointCache, log zerolog.Logger) *CachedGateway {
	return &CachedGateway{
		store: store,
		cache: cache,
		log:   log.With().Str("component", "cached_gateway").Logger(),
	}
}

func (g *CachedGateway) CreateSession(ctx context.Context, userID int, examSetID uuid.UUID, totalQuestions int, startedAt time.Time, meta model.SessionMeta) (uuid.UUID, error) {
	id, err := g.store.CreateSession(ctx, userID, examSetID, totalQuestions, startedAt, meta)
	if err != nil {
		return uuid.Nil, err
	}
	// The cache is filled on the first resume lookup; drop any stale pointer.
	if err := g.cache.ClearUser(ctx, userID); err != nil {
		g.log.Warn().Err(err).Int("user_id", userID).Msg("Cache pointer reset failed")
	}
	return id, nil
}

func (g *CachedGateway) UpdateSessionProgress(ctx context.Context, sessionID uuid.UUID, currentIndex, timeLeft int, updatedAt time.Time) error {
	if err := g.store.UpdateSessionProgress(ctx, sessionID, currentIndex, timeLeft, updatedAt); err != nil {
		return err
	}
	if _, err := g.cache.PutProgress(ctx, sessionID, currentIndex, timeLeft, updatedAt); err != nil {
		g.invalidate(ctx, sessionID, err)
	}
	return nil
}

func (g *CachedGateway) UpsertAnswers(ctx context.Context, sessionID uuid.UUID, answers []model.AnswerEntry) error {
	if err := g.store.UpsertAnswers(ctx, sessionID, answers); err != nil {
		return err
	}
	if _, err := g.cache.PutAnswers(ctx, sessionID, answers); err != nil {
		g.invalidate(ctx, sessionID, err)
	}
	return nil
}

// MarkCompleted clears the checkpoint around the store write. A resume
// lookup running meanwhile may heal the cache from the still open row.
func (g *CachedGateway) MarkCompleted(ctx context.Context, sessionID uuid.UUID, correct, score, timeSpent int, completedAt time.Time) error {
	g.clear(ctx, sessionID)
	err := g.store.MarkCompleted(ctx, sessionID, correct, score, timeSpent, completedAt)
	g.clear(ctx, sessionID)
	return err
}

func (g *CachedGateway) MarkCancelled(ctx context.Context, sessionID uuid.UUID, completedAt time.Time) error {
	g.clear(ctx, sessionID)
	err := g.store.MarkCancelled(ctx, sessionID, completedAt)
	g.clear(ctx, sessionID)
	return err
}

// FindInProgressSession serves from the cache when it can.
func (g *CachedGateway) FindInProgressSession(ctx context.Context, userID int) (*model.SessionSnapshot, error) {
	snap, err := g.cache.Session(ctx, userID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		g.log.Warn().Err(err).Int("user_id", userID).Msg("Checkpoint cache read failed, using store")
	}

	snap, err = g.store.FindInProgressSession(ctx, userID)
	if err != nil || snap == nil {
		return snap, err
	}

	// Self-heal so the restore that usually follows reads from the cache.
	answers, err := g.store.LoadAnswers(ctx, snap.SessionID)
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", snap.SessionID.String()).Msg("Answer load for cache heal failed")
		return snap, nil
	}
	if err := g.cache.PutSession(ctx, snap, answers); err != nil {
		g.invalidate(ctx, snap.SessionID, err)
		return snap, nil
	}

	// The session may have been finalized between the read and the heal.
	cur, err := g.store.FindInProgressSession(ctx, userID)
	if err != nil {
		g.clear(ctx, snap.SessionID)
		return snap, nil
	}
	if cur == nil || cur.SessionID != snap.SessionID {
		g.log.Debug().Str("session_id", snap.SessionID.String()).Msg("Session finalized during cache heal")
		g.clear(ctx, snap.SessionID)
		return cur, nil
	}
	return snap, nil
}

func (g *CachedGateway) LoadAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerEntry, error) {
	answers, err := g.cache.Answers(ctx, sessionID)
	if err == nil {
		return answers, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		g.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Checkpoint cache read failed, using store")
	}
	return g.store.LoadAnswers(ctx, sessionID)
}

func (g *CachedGateway) invalidate(ctx context.Context, sessionID uuid.UUID, cause error) {
	g.log.Warn().Err(cause).Str("session_id", sessionID.String()).Msg("Checkpoint mirror failed, invalidating")
	g.clear(ctx, sessionID)
}

func (g *CachedGateway) clear(ctx context.Context, sessionID uuid.UUID) {
	if err := g.cache.Clear(ctx, sessionID); err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Checkpoint cache clear failed")
	}
}
