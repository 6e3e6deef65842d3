package service

import "sync"

type retryKey struct {
	userID     string
	positionID string
	action     string
}

// RetryTracker consecutive failures per position and action
type RetryTracker struct {
	mu       sync.Mutex
	failures map[retryKey]int
	Max      int
}

// NewRetryTracker Constructor
func NewRetryTracker(max int) *RetryTracker {
	if max <= 0 {
		max = 3
	}
	return &RetryTracker{failures: make(map[retryKey]int), Max: max}
}

// Failure count failure, return consecutive failures
func (r *RetryTracker) Failure(userID, positionID, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := retryKey{userID, positionID, action}
	r.failures[k]++
	return r.failures[k]
}

// Exhausted failures reached budget exactly now or on one of later multiples
func (r *RetryTracker) Exhausted(count int) bool {
	return count >= r.Max && count%r.Max == 0
}

// Reset action succeeded
func (r *RetryTracker) Reset(userID, positionID, action string) {
	r.mu.Lock()
	delete(r.failures, retryKey{userID, positionID, action})
	r.mu.Unlock()
}

// Forget position was removed
func (r *RetryTracker) Forget(userID, positionID string) {
	r.mu.Lock()
	for k := range r.failures {
		if k.userID == userID && k.positionID == positionID {
			delete(r.failures, k)
		}
	}
	r.mu.Unlock()
}

// Count current failures
func (r *RetryTracker) Count(userID, positionID, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[retryKey{userID, positionID, action}]
}
