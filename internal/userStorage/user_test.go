package userStorage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrdjehknhc/axtest/internal/model"
)

func TestGetDefaultsForUnknownUser(t *testing.T) {
	s, err := NewSettingsService(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), s.Get("42"))
	assert.Empty(t, s.UserIDs())
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s, err := NewSettingsService(path)
	require.NoError(t, err)

	_, err = s.Update("42", func(settings *model.UserSettings) error {
		settings.StopLoss = 20
		settings.Notifications.DailySummary = true
		return nil
	})
	require.NoError(t, err)
	_, err = s.SetTakeProfitLadder("42", "1.5:50, 3 : 50")
	require.NoError(t, err)

	reloaded, err := NewSettingsService(path)
	require.NoError(t, err)
	got := reloaded.Get("42")
	assert.Equal(t, 20.0, got.StopLoss)
	assert.True(t, got.Notifications.DailySummary)
	assert.Equal(t, []model.TakeProfitRung{{Level: 1.5, VolumePercent: 50}, {Level: 3, VolumePercent: 50}}, got.TakeProfitLevels)
	assert.Equal(t, model.DefaultSettings().BreakevenPercent, got.BreakevenPercent)
	assert.Equal(t, []string{"42"}, reloaded.UserIDs())
}

func TestUpdateFailureStoresNothing(t *testing.T) {
	s, err := NewSettingsService(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)

	_, err = s.Update("42", func(settings *model.UserSettings) error {
		settings.StopLoss = 99
		return errors.New("rejected")
	})
	assert.Error(t, err)
	assert.Equal(t, model.DefaultSettings().StopLoss, s.Get("42").StopLoss)

	_, err = s.SetTakeProfitLadder("42", "0.5:10")
	assert.ErrorIs(t, err, model.ErrInvalidRung)
	assert.Empty(t, s.UserIDs())
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[users.7]
sl = 10.0

[users.7.notifications]
errors = false
`), 0o600))

	s, err := NewSettingsService(path)
	require.NoError(t, err)
	got := s.Get("7")
	assert.Equal(t, 10.0, got.StopLoss)
	assert.False(t, got.Notifications.Errors)
	assert.True(t, got.Notifications.PositionOpen)
	assert.Equal(t, model.DefaultSettings().TakeProfitLevels, got.TakeProfitLevels)
}

func TestBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[users.7\nsl = "), 0o600))
	_, err := NewSettingsService(path)
	assert.Error(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	s, err := NewSettingsService(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)
	_, err = s.SetTakeProfitLadder("1", "2:100")
	require.NoError(t, err)

	got := s.Get("1")
	got.TakeProfitLevels[0].Level = 9
	assert.Equal(t, 2.0, s.Get("1").TakeProfitLevels[0].Level)
}

func TestWhitelist(t *testing.T) {
	w := NewWhitelist([]string{" 1 ", "2", ""})
	assert.True(t, w.Allowed("1"))
	assert.True(t, w.Allowed("2"))
	assert.False(t, w.Allowed("3"))
	assert.False(t, w.Allowed(""))

	w.Add("3")
	assert.True(t, w.Allowed("3"))
	assert.True(t, w.Remove("1"))
	assert.False(t, w.Remove("1"))
	assert.Equal(t, []string{"2", "3"}, w.Users())

	assert.False(t, NewWhitelist(nil).Allowed("1"))
}
