package userStorage

import (
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Whitelist users allowed to control positions. Empty whitelist allows nobody
type Whitelist struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewWhitelist Constructor
func NewWhitelist(ids []string) *Whitelist {
	w := &Whitelist{users: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			w.users[id] = struct{}{}
		}
	}
	log.WithField("count", len(w.users)).Info("userStorage / whitelist loaded")
	return w
}

// Allowed user is in whitelist
func (w *Whitelist) Allowed(userID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.users[userID]
	return ok
}

// Add user
func (w *Whitelist) Add(userID string) {
	w.mu.Lock()
	w.users[userID] = struct{}{}
	w.mu.Unlock()
	log.WithField("user", userID).Info("userStorage / whitelist / user added")
}

// Remove user
func (w *Whitelist) Remove(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.users[userID]; !ok {
		return false
	}
	delete(w.users, userID)
	log.WithField("user", userID).Info("userStorage / whitelist / user removed")
	return true
}

// Users sorted ids
func (w *Whitelist) Users() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.users))
	for id := range w.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
