package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	PriceCheckInterval   time.Duration `env:"PRICE_CHECK_INTERVAL" envDefault:"30s"`
	PriceTimeout         time.Duration `env:"PRICE_TIMEOUT" envDefault:"10s"`
	PriceSource          string        `env:"PRICE_SOURCE" envDefault:"jupiter"`
	PriceAPIURL          string        `env:"PRICE_API_URL" envDefault:"https://quote-api.jup.ag/v6/price"`
	PriceRateLimit       float64       `env:"PRICE_RATE_LIMIT" envDefault:"10"`
	PriceServicePortRPC  string        `env:"PRICE_SERVICE_PORT_RPC"`
	PriceServiceHostRPC  string        `env:"PRICE_SERVICE_HOST_RPC"`
	PriceStreamScale     float64       `env:"PRICE_STREAM_SCALE" envDefault:"1e9"`
	PriceStreamMaxAge    time.Duration `env:"PRICE_STREAM_MAX_AGE" envDefault:"2m"`

	RegistryBackend  string `env:"REGISTRY_BACKEND" envDefault:"file"`
	PositionsFile    string `env:"POSITIONS_FILE" envDefault:"positions.json"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresDB       string `env:"POSTGRES_DB"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"2m"`

	TradeAPIURL        string        `env:"TRADE_API_URL"`
	TradeAccessToken   string        `env:"TRADE_ACCESS_TOKEN"`
	TradeRefreshToken  string        `env:"TRADE_REFRESH_TOKEN"`
	TradeDryRun        bool          `env:"TRADE_DRY_RUN" envDefault:"false"`
	TradeRateLimit     float64       `env:"TRADE_RATE_LIMIT" envDefault:"5"`
	TradeTimeout       time.Duration `env:"TRADE_TIMEOUT" envDefault:"30s"`
	DryRunBalance      float64       `env:"DRY_RUN_BALANCE" envDefault:"100"`
	WalletAddress      string        `env:"WALLET_ADDRESS"`
	PrivateKey         string        `env:"PRIVATE_KEY"`
	PrivateKeyFile     string        `env:"PRIVATE_KEY_FILE"`
	PrivateKeyPassword string        `env:"PRIVATE_KEY_PASSWORD"`

	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"3"`
	DustThreshold float64       `env:"DUST_THRESHOLD" envDefault:"0.0001"`
	SettleDelay   time.Duration `env:"SETTLE_DELAY" envDefault:"3s"`

	SettingsFile   string   `env:"SETTINGS_FILE" envDefault:"settings.toml"`
	AllowedUserIDs []string `env:"ALLOWED_USER_IDS" envSeparator:","`

	TradeHistoryDB  string `env:"TRADE_HISTORY_DB" envDefault:"trade_history.db"`
	DailyReportHour int    `env:"DAILY_REPORT_HOUR" envDefault:"20"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	MonitorPortRPC string `env:"MONITOR_PORT_RPC" envDefault:"5303"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	AutoStart      bool   `env:"MONITOR_AUTO_START" envDefault:"true"`
}

func (c *Config) GetConnStringPostgres() string {
	return fmt.Sprintf("postgres://%v:%v@%v:%v/%v", c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB)
}

func (c *Config) GetConnStringToPriceService() string {
	return fmt.Sprintf("%s:%s", c.PriceServiceHostRPC, c.PriceServicePortRPC)
}

func (c *Config) GetAddressMonitorRPC() string {
	return fmt.Sprintf(":%s", c.MonitorPortRPC)
}

// Validate values that env tags can't check
func (c *Config) Validate() error {
	switch c.PriceSource {
	case "jupiter":
	case "stream":
		if c.PriceServiceHostRPC == "" || c.PriceServicePortRPC == "" {
			return fmt.Errorf("config / Validate : stream price source needs PRICE_SERVICE_HOST_RPC and PRICE_SERVICE_PORT_RPC")
		}
	default:
		return fmt.Errorf("config / Validate : unknown PRICE_SOURCE %q", c.PriceSource)
	}
	switch c.RegistryBackend {
	case "file", "postgres":
	default:
		return fmt.Errorf("config / Validate : unknown REGISTRY_BACKEND %q", c.RegistryBackend)
	}
	if !c.TradeDryRun && c.TradeAPIURL == "" {
		return fmt.Errorf("config / Validate : TRADE_API_URL is required unless TRADE_DRY_RUN is set")
	}
	if c.PriceCheckInterval <= 0 {
		return fmt.Errorf("config / Validate : PRICE_CHECK_INTERVAL must be positive")
	}
	if c.DailyReportHour < 0 || c.DailyReportHour > 23 {
		return fmt.Errorf("config / Validate : DAILY_REPORT_HOUR must be in 0..23")
	}
	return nil
}

// GetConfig read .env file when present, then environment
func GetConfig() (*Config, error) {
	_ = godotenv.Load()
	conf := Config{}
	err := env.Parse(&conf)
	if err != nil {
		return nil, err
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
