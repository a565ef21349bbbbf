package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserActiveSessionKey returns the key pointing at a user's in-progress session id
func (r *CacheKeyStruct) UserActiveSessionKey(userID int) string {
	return fmt.Sprintf("user:%d:active_session", userID)
}

// SessionCheckpointKey returns the hash key holding a session's last checkpoint
func (r *CacheKeyStruct) SessionCheckpointKey(sessionID string) string {
	return fmt.Sprintf("session:%s:checkpoint", sessionID)
}

// SessionAnswersKey returns the hash key holding a session's answers, keyed by question id
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

var CacheKey = NewCacheKeyStruct()
