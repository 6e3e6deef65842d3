// Package locker per position mutual exclusion
package locker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Locker acquire exclusive right on key. Returned unlock is safe to call more than once
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Key lock key of position
func Key(userID, positionID string) string {
	return userID + "/" + positionID
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Table in process keyed lock table. Entries live only while someone holds or waits on them
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewTable Constructor
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Lock wait for key or ctx done
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	e, exist := t.entries[key]
	if !exist {
		e = &entry{ch: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e)
		return nil, errors.Wrapf(ctx.Err(), "locker table / Lock / %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			t.release(key, e)
		})
	}, nil
}

func (t *Table) release(key string, e *entry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

// Len count of keys held or waited on
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Chain acquire lockers in order, release in reverse
type Chain []Locker

// Lock all lockers of chain
func (c Chain) Lock(ctx context.Context, key string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
