package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// LearnerSessionKey returns the cache key holding a learner's active token ID.
func (r *CacheKeyStruct) LearnerSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// DraftKey returns the record key of a local attempt draft.
func (r *CacheKeyStruct) DraftKey(examID, attemptID string) string {
	return fmt.Sprintf("%s:%s", examID, attemptID)
}

// DraftRedisKey returns the Redis key of an attempt draft kept in a sidecar Redis.
func (r *CacheKeyStruct) DraftRedisKey(examID, attemptID string) string {
	return "draft:" + r.DraftKey(examID, attemptID)
}

// AttemptAnswersKey returns the cache key of an attempt's autosaved answers.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// ExamPayloadKey returns the cache key for an exam's payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// AttemptEventsChannel returns the Redis PubSub channel carrying an attempt's status events.
func (r *CacheKeyStruct) AttemptEventsChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:events", attemptID)
}

var CacheKey = NewCacheKeyStruct()
