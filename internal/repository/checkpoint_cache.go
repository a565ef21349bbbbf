package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-session/internal/config"
	"github.com/stemsi/exam-session/internal/model"
)

// ErrCacheMiss is returned when the cache holds no checkpoint for the lookup.
var ErrCacheMiss = errors.New("checkpoint cache miss")

// DefaultCheckpointTTL bounds how long an idle checkpoint stays cached.
const DefaultCheckpointTTL = 24 * time.Hour

const (
	fieldMeta         = "meta"
	fieldCurrentIndex = "current_index"
	fieldTimeLeft     = "time_left"
	fieldUpdatedAt    = "updated_at"
)

// cachedSession is the immutable part of a checkpoint.
type cachedSession struct {
	SessionID      uuid.UUID         `json:"session_id"`
	UserID         int               `json:"user_id"`
	ExamSetID      uuid.UUID         `json:"exam_set_id"`
	ExamSetName    string            `json:"exam_set_name"`
	TotalQuestions int               `json:"total_questions"`
	Meta           model.SessionMeta `json:"meta"`
	StartedAt      time.Time         `json:"started_at"`
}

// CheckpointCache mirrors the last checkpoint of in-progress sessions in
// Redis. A checkpoint is a hash with the session metadata and progress, plus
// a hash of answers keyed by question id. A per-user pointer names the
// in-progress session.
type CheckpointCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCheckpointCache creates a new CheckpointCache.
func NewCheckpointCache(rdb *redis.Client, ttl time.Duration) *CheckpointCache {
	if ttl <= 0 {
		ttl = DefaultCheckpointTTL
	}
	return &CheckpointCache{rdb: rdb, ttl: ttl}
}

// PutSession stores a full checkpoint and points the user at it.
func (c *CheckpointCache) PutSession(ctx context.Context, snap *model.SessionSnapshot, answers []model.AnswerEntry) error {
	meta, err := json.Marshal(cachedSession{
		SessionID:      snap.SessionID,
		UserID:         snap.UserID,
		ExamSetID:      snap.ExamSetID,
		ExamSetName:    snap.ExamSetName,
		TotalQuestions: snap.TotalQuestions,
		Meta:           snap.Meta,
		StartedAt:      snap.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	id := snap.SessionID.String()
	ck := config.CacheKey.SessionCheckpointKey(id)
	ak := config.CacheKey.SessionAnswersKey(id)

	fields, err := answerFields(answers)
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ak)
		pipe.HSet(ctx, ck,
			fieldMeta, meta,
			fieldCurrentIndex, snap.CurrentIndex,
			fieldTimeLeft, snap.TimeLeft,
			fieldUpdatedAt, snap.UpdatedAt.UnixMilli(),
		)
		pipe.Expire(ctx, ck, c.ttl)
		if len(fields) > 0 {
			pipe.HSet(ctx, ak, fields...)
			pipe.Expire(ctx, ak, c.ttl)
		}
		pipe.Set(ctx, config.CacheKey.UserActiveSessionKey(snap.UserID), id, c.ttl)
		return nil
	})
	return err
}

// PutProgress updates the cursor of a cached checkpoint. It reports false
// when the session is not cached.
func (c *CheckpointCache) PutProgress(ctx context.Context, sessionID uuid.UUID, currentIndex, timeLeft int, updatedAt time.Time) (bool, error) {
	ck := config.CacheKey.SessionCheckpointKey(sessionID.String())
	ok, err := c.cached(ctx, ck)
	if err != nil || !ok {
		return false, err
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ck,
			fieldCurrentIndex, currentIndex,
			fieldTimeLeft, timeLeft,
			fieldUpdatedAt, updatedAt.UnixMilli(),
		)
		pipe.Expire(ctx, ck, c.ttl)
		return nil
	})
	return err == nil, err
}

// PutAnswers upserts answers into a cached checkpoint. It reports false when
// the session is not cached.
func (c *CheckpointCache) PutAnswers(ctx context.Context, sessionID uuid.UUID, answers []model.AnswerEntry) (bool, error) {
	id := sessionID.String()
	ok, err := c.cached(ctx, config.CacheKey.SessionCheckpointKey(id))
	if err != nil || !ok || len(answers) == 0 {
		return ok, err
	}
	fields, err := answerFields(answers)
	if err != nil {
		return false, err
	}
	ak := config.CacheKey.SessionAnswersKey(id)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ak, fields...)
		pipe.Expire(ctx, ak, c.ttl)
		return nil
	})
	return err == nil, err
}

// Session returns the user's cached in-progress checkpoint.
func (c *CheckpointCache) Session(ctx context.Context, userID int) (*model.SessionSnapshot, error) {
	id, err := c.rdb.Get(ctx, config.CacheKey.UserActiveSessionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	vals, err := c.rdb.HGetAll(ctx, config.CacheKey.SessionCheckpointKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrCacheMiss
	}

	var meta cachedSession
	if err := json.Unmarshal([]byte(vals[fieldMeta]), &meta); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	idx, err1 := strconv.Atoi(vals[fieldCurrentIndex])
	left, err2 := strconv.Atoi(vals[fieldTimeLeft])
	updated, err3 := strconv.ParseInt(vals[fieldUpdatedAt], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}

	answered, err := c.rdb.HLen(ctx, config.CacheKey.SessionAnswersKey(id)).Result()
	if err != nil {
		return nil, err
	}

	return &model.SessionSnapshot{
		SessionID:      meta.SessionID,
		UserID:         meta.UserID,
		ExamSetID:      meta.ExamSetID,
		ExamSetName:    meta.ExamSetName,
		TotalQuestions: meta.TotalQuestions,
		CurrentIndex:   idx,
		TimeLeft:       left,
		AnsweredCount:  int(answered),
		Meta:           meta.Meta,
		StartedAt:      meta.StartedAt,
		UpdatedAt:      time.UnixMilli(updated).UTC(),
	}, nil
}

// Answers returns the cached answers of a session, ordered by question id.
func (c *CheckpointCache) Answers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerEntry, error) {
	id := sessionID.String()
	ok, err := c.cached(ctx, config.CacheKey.SessionCheckpointKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCacheMiss
	}

	vals, err := c.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(id)).Result()
	if err != nil {
		return nil, err
	}
	answers := make([]model.AnswerEntry, 0, len(vals))
	for qid, raw := range vals {
		var a model.AnswerEntry
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", qid, err)
		}
		answers = append(answers, a)
	}
	slices.SortFunc(answers, func(a, b model.AnswerEntry) int {
		return strings.Compare(a.QuestionID.String(), b.QuestionID.String())
	})
	return answers, nil
}

// Clear drops a session's checkpoint and, if it still points there, the
// owner's pointer.
func (c *CheckpointCache) Clear(ctx context.Context, sessionID uuid.UUID) error {
	id := sessionID.String()
	ck := config.CacheKey.SessionCheckpointKey(id)

	raw, err := c.rdb.HGet(ctx, ck, fieldMeta).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keys := []string{ck, config.CacheKey.SessionAnswersKey(id)}
	if raw != "" {
		var meta cachedSession
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			pk := config.CacheKey.UserActiveSessionKey(meta.UserID)
			cur, err := c.rdb.Get(ctx, pk).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if cur == id {
				keys = append(keys, pk)
			}
		}
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// ClearUser drops the user's pointer so the next lookup reads the store.
func (c *CheckpointCache) ClearUser(ctx context.Context, userID int) error {
	return c.rdb.Del(ctx, config.CacheKey.UserActiveSessionKey(userID)).Err()
}

func (c *CheckpointCache) cached(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func answerFields(answers []model.AnswerEntry) ([]any, error) {
	fields := make([]any, 0, len(answers)*2)
	for _, a := range answers {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal answer %s: %w", a.QuestionID, err)
		}
		fields = append(fields, a.QuestionID.String(), raw)
	}
	return fields, nil
}
