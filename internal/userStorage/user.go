// Package userStorage
package userStorage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mrdjehknhc/axtest/internal/model"
)

type settingsDoc struct {
	Users map[string]model.UserSettings `toml:"users"`
}

// SettingsService per user settings, cached in memory and persisted as TOML
type SettingsService struct {
	Path  string
	Users map[string]model.UserSettings
	sync.RWMutex
}

// NewSettingsService Constructor. Missing file means no user changed settings yet
func NewSettingsService(path string) (*SettingsService, error) {
	s := &SettingsService{
		Path:  path,
		Users: make(map[string]model.UserSettings),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("userStorage / NewSettingsService : %v", err)
	}
	return s, nil
}

func (s *SettingsService) load() error {
	var doc struct {
		Users map[string]toml.Primitive `toml:"users"`
	}
	md, err := toml.DecodeFile(s.Path, &doc)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, "decode settings")
	}
	for user, prim := range doc.Users {
		// keys absent in file keep default values
		settings := model.DefaultSettings()
		if err = md.PrimitiveDecode(prim, &settings); err != nil {
			return errors.Wrapf(err, "decode settings of user %s", user)
		}
		s.Users[user] = settings
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.WithField("keys", undecoded).Warn("userStorage / load / unknown keys ignored")
	}
	return nil
}

func (s *SettingsService) save() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if err = toml.NewEncoder(tmp).Encode(settingsDoc{Users: s.Users}); err != nil {
		tmp.Close()
		return errors.Wrap(err, "encode settings")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.Path), "replace settings file")
}

// Get settings of user, defaults for unknown user
func (s *SettingsService) Get(userID string) model.UserSettings {
	s.RLock()
	settings, exist := s.Users[userID]
	s.RUnlock()
	if !exist {
		return model.DefaultSettings()
	}
	settings.TakeProfitLevels = append([]model.TakeProfitRung(nil), settings.TakeProfitLevels...)
	return settings
}

// Update change settings of user with fn and persist. Nothing is stored when fn fails
func (s *SettingsService) Update(userID string, fn func(settings *model.UserSettings) error) (model.UserSettings, error) {
	s.Lock()
	defer s.Unlock()
	settings, exist := s.Users[userID]
	if !exist {
		settings = model.DefaultSettings()
	}
	settings.TakeProfitLevels = append([]model.TakeProfitRung(nil), settings.TakeProfitLevels...)
	if err := fn(&settings); err != nil {
		return model.UserSettings{}, fmt.Errorf("userStorage / Update / %s : %w", userID, err)
	}
	prev, hadPrev := s.Users[userID]
	s.Users[userID] = settings
	if err := s.save(); err != nil {
		if hadPrev {
			s.Users[userID] = prev
		} else {
			delete(s.Users, userID)
		}
		return model.UserSettings{}, fmt.Errorf("userStorage / Update / save : %v", err)
	}
	log.WithField("user", userID).Debug("userStorage / settings updated")
	return settings, nil
}

// SetTakeProfitLadder parse ladder text like "1.5:25, 2:30" and store it
func (s *SettingsService) SetTakeProfitLadder(userID, text string) (model.UserSettings, error) {
	ladder, err := model.ParseTakeProfitLadder(text)
	if err != nil {
		return model.UserSettings{}, err
	}
	return s.Update(userID, func(settings *model.UserSettings) error {
		settings.TakeProfitLevels = ladder
		return nil
	})
}

// UserIDs users with stored settings, sorted
func (s *SettingsService) UserIDs() []string {
	s.RLock()
	defer s.RUnlock()
	ids := make([]string, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
