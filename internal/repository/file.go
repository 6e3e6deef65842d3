// Package repository
package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mrdjehknhc/axtest/internal/model"
)

// FileRegistry position registry in one JSON document {"<user>": [position, ...]}.
// Every operation is read-merge-write of the whole document under mu
type FileRegistry struct {
	Path string
	mu   sync.Mutex
}

// NewFileRegistry Constructor, create empty document when file is missing
func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{Path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := r.save(map[string][]model.Position{}); err != nil {
			return nil, errors.Wrap(err, "repository file / NewFileRegistry / create")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "repository file / NewFileRegistry / stat")
	}
	return r, nil
}

func (r *FileRegistry) load() (map[string][]model.Position, error) {
	data, err := os.ReadFile(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]model.Position{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}
	doc := map[string][]model.Position{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	for user, list := range doc {
		for i := range list {
			list[i].UserID = user
		}
	}
	return doc, nil
}

// save write temp file and rename over document, readers never see partial write
func (r *FileRegistry) save(doc map[string][]model.Position) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.Path), filepath.Base(r.Path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp")
	}
	return errors.Wrap(os.Rename(tmpName, r.Path), "rename")
}

func (r *FileRegistry) modify(fn func(doc map[string][]model.Position) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	changed, err := fn(doc)
	if err != nil || !changed {
		return err
	}
	return r.save(doc)
}

// Add new position to user
func (r *FileRegistry) Add(_ context.Context, userID string, position model.Position) error {
	if position.EntryPrice <= 0 {
		return errors.Wrapf(model.ErrInvalidEntryPrice, "repository file / Add / %s", position.ID)
	}
	position = position.Clone()
	position.UserID = userID
	if position.TakeProfitExecuted == nil {
		position.TakeProfitExecuted = []int{}
	}
	err := r.modify(func(doc map[string][]model.Position) (bool, error) {
		for _, p := range doc[userID] {
			if p.ID == position.ID {
				return false, errors.Wrapf(model.ErrPositionExists, "%s", position.ID)
			}
		}
		doc[userID] = append(doc[userID], position)
		return true, nil
	})
	if err != nil {
		return errors.Wrap(err, "repository file / Add")
	}
	log.WithFields(log.Fields{"user": userID, "position": position.ID}).Debug("repository file / Add")
	return nil
}

// List positions of user in insertion order
func (r *FileRegistry) List(_ context.Context, userID string) ([]model.Position, error) {
	r.mu.Lock()
	doc, err := r.load()
	r.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "repository file / List")
	}
	return doc[userID], nil
}

// Get position of user by id
func (r *FileRegistry) Get(ctx context.Context, userID, positionID string) (model.Position, bool, error) {
	list, err := r.List(ctx, userID)
	if err != nil {
		return model.Position{}, false, err
	}
	for _, p := range list {
		if p.ID == positionID {
			return p, true, nil
		}
	}
	return model.Position{}, false, nil
}

// Update merge patch into position. Missing position is a no-op and returns false
func (r *FileRegistry) Update(_ context.Context, userID, positionID string, patch model.PositionPatch) (bool, error) {
	found := false
	err := r.modify(func(doc map[string][]model.Position) (bool, error) {
		list := doc[userID]
		for i := range list {
			if list[i].ID == positionID {
				list[i].Apply(patch)
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return false, errors.Wrap(err, "repository file / Update")
	}
	return found, nil
}

// Remove position, empty user lists are dropped
func (r *FileRegistry) Remove(_ context.Context, userID, positionID string) (bool, error) {
	found := false
	err := r.modify(func(doc map[string][]model.Position) (bool, error) {
		list := doc[userID]
		for i := range list {
			if list[i].ID == positionID {
				list = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
		if len(list) == 0 {
			delete(doc, userID)
		} else {
			doc[userID] = list
		}
		return true, nil
	})
	if err != nil {
		return false, errors.Wrap(err, "repository file / Remove")
	}
	return found, nil
}

// All snapshot of all users
func (r *FileRegistry) All(_ context.Context) (model.Snapshot, error) {
	r.mu.Lock()
	doc, err := r.load()
	r.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "repository file / All")
	}
	snap := make(model.Snapshot, len(doc))
	for user, list := range doc {
		if len(list) > 0 {
			snap[user] = list
		}
	}
	return snap, nil
}
