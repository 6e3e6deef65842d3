package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	t.Setenv("TRADE_DRY_RUN", "true")
	t.Setenv("ALLOWED_USER_IDS", "1,2")
	conf, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, conf.PriceCheckInterval)
	assert.Equal(t, "jupiter", conf.PriceSource)
	assert.Equal(t, "file", conf.RegistryBackend)
	assert.Equal(t, 3, conf.MaxRetries)
	assert.Equal(t, 0.0001, conf.DustThreshold)
	assert.Equal(t, 20, conf.DailyReportHour)
	assert.Equal(t, 1e9, conf.PriceStreamScale)
	assert.Equal(t, 30*time.Second, conf.TradeTimeout)
	assert.True(t, conf.AutoStart)
	assert.Equal(t, []string{"1", "2"}, conf.AllowedUserIDs)
	assert.Equal(t, ":5303", conf.GetAddressMonitorRPC())
}

func TestValidate(t *testing.T) {
	base := Config{PriceSource: "jupiter", RegistryBackend: "file", TradeDryRun: true, PriceCheckInterval: time.Second}
	require.NoError(t, base.Validate())

	c := base
	c.PriceSource = "stream"
	assert.Error(t, c.Validate())
	c.PriceServiceHostRPC, c.PriceServicePortRPC = "localhost", "5300"
	assert.NoError(t, c.Validate())

	c = base
	c.RegistryBackend = "mongo"
	assert.Error(t, c.Validate())

	c = base
	c.TradeDryRun = false
	assert.Error(t, c.Validate())

	c = base
	c.DailyReportHour = 24
	assert.Error(t, c.Validate())
}

func TestWalletKey(t *testing.T) {
	c := Config{PrivateKey: " raw-key "}
	key, err := c.WalletKey()
	require.NoError(t, err)
	assert.Equal(t, "raw-key", key)

	blob, err := EncryptPrivateKey("5KQwr9secret", "hunter2")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	c = Config{PrivateKeyFile: path, PrivateKeyPassword: "hunter2"}
	key, err = c.WalletKey()
	require.NoError(t, err)
	assert.Equal(t, "5KQwr9secret", key)

	c.PrivateKeyPassword = "wrong"
	_, err = c.WalletKey()
	assert.Error(t, err)

	key, err = (&Config{}).WalletKey()
	require.NoError(t, err)
	assert.Empty(t, key)
}
