package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	defaultConfigFile = "configs/values_local.yaml"
	envPrefix         = "ENGINE"
)

// Config ...
type Config struct {
	Service struct {
		Name string `yaml:"name"`
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"service"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Exchange Exchange              `yaml:"exchange"`
	Engine   Engine                `yaml:"engine"`
	Risk     models.RiskParameters `yaml:"risk"`
	Storage  Storage               `yaml:"storage"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Tracing tracing.Config `yaml:"tracing"`
}

// Exchange — настройки REST-клиента биржи.
type Exchange struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	Timeout        time.Duration `yaml:"timeout"`
	RequestPause   time.Duration `yaml:"request_pause"`    // пауза между запросами в очереди
	RateLimitCalls int           `yaml:"rate_limit_calls"` // бюджет вызовов на окно
	RateWindow     time.Duration `yaml:"rate_window"`
	LowWater       int           `yaml:"low_water"` // при остатке <= LowWater ждём сброса окна

	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxRetryTime time.Duration `yaml:"max_retry_time"`

	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type Engine struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	DefaultBooks  []string      `yaml:"default_books"`
	HistoryWindow int           `yaml:"history_window"` // сколько последних цен держим на книгу
	HistorySeed   int           `yaml:"history_seed"`   // сколько сделок тянем для прогрева
	EventBuffer   int           `yaml:"event_buffer"`
	AutoStart     bool          `yaml:"auto_start"` // стартовать при запуске процесса, если ключи уже есть
}

type Storage struct {
	Driver string `yaml:"driver"` // memory | file | postgres
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

// Default — значения, которые работают без файла конфигурации.
func Default() Config {
	cfg := Config{
		Exchange: Exchange{
			BaseURL:        "https://api.bitso.com",
			Timeout:        10 * time.Second,
			RequestPause:   100 * time.Millisecond,
			RateLimitCalls: 60,
			RateWindow:     time.Minute,
			LowWater:       0,
			MaxRetries:     3,
			RetryBackoff:   500 * time.Millisecond,
			MaxRetryTime:   30 * time.Second,
			CacheTTL:       5 * time.Second,
		},
		Engine: Engine{
			TickInterval:  5 * time.Minute,
			DefaultBooks:  []string{"btc_mxn", "eth_mxn"},
			HistoryWindow: 200,
			HistorySeed:   100,
			EventBuffer:   64,
		},
		Risk: models.RiskParameters{
			MaxOrderSize:       map[string]float64{"btc": 0.01, "eth": 0.1, "xrp": 500},
			MaxDailyVolume:     map[string]float64{"btc": 0.05, "eth": 1, "xrp": 5000},
			MaxDrawdownPct:     20,
			StopLossPct:        5,
			MaxOpenTrades:      5,
			MaxPositionSizePct: 10,
			MaxDailyLossPct:    5,
		},
		Storage: Storage{
			Driver: "file",
			Path:   "data/engine.json",
		},
		Tracing: tracing.Config{Host: "localhost", Port: 6831},
	}
	cfg.Service.Name = "trade-engine"
	cfg.Service.Port = 8080
	cfg.Log.Level = "info"
	cfg.Kafka.Topic = "trade-events"
	return cfg
}

func NewConfig() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFile
	}
	return Load(configFileName)
}

// Load читает yaml поверх дефолтов, затем применяет ENGINE_* переменные окружения.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrapf(err, "decode config file %s", path)
		}
	case os.IsNotExist(err):
		// работаем на дефолтах
	default:
		return nil, errors.Wrapf(err, "open config file %s", path)
	}

	applyEnv(newEnv(), &config)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func applyEnv(v *viper.Viper, cfg *Config) {
	str := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.GetString(key) != "" {
			if d := v.GetDuration(key); d > 0 {
				*dst = d
			}
		}
	}
	num := func(key string, dst *int) {
		if v.GetString(key) != "" {
			*dst = v.GetInt(key)
		}
	}

	str("log.level", &cfg.Log.Level)
	num("service.port", &cfg.Service.Port)

	str("exchange.base_url", &cfg.Exchange.BaseURL)
	str("exchange.api_key", &cfg.Exchange.APIKey)
	str("exchange.api_secret", &cfg.Exchange.APISecret)
	dur("exchange.timeout", &cfg.Exchange.Timeout)
	dur("exchange.request_pause", &cfg.Exchange.RequestPause)
	num("exchange.rate_limit_calls", &cfg.Exchange.RateLimitCalls)
	num("exchange.max_retries", &cfg.Exchange.MaxRetries)
	dur("exchange.cache_ttl", &cfg.Exchange.CacheTTL)

	dur("engine.tick_interval", &cfg.Engine.TickInterval)
	if v.GetString("engine.auto_start") != "" {
		cfg.Engine.AutoStart = v.GetBool("engine.auto_start")
	}
	if s := v.GetString("engine.default_books"); s != "" {
		cfg.Engine.DefaultBooks = strings.Split(s, ",")
	}

	str("storage.driver", &cfg.Storage.Driver)
	str("storage.dsn", &cfg.Storage.DSN)
	str("storage.path", &cfg.Storage.Path)

	str("telegram.token", &cfg.Telegram.Token)
	if v.GetString("telegram.chat_id") != "" {
		cfg.Telegram.ChatID = v.GetInt64("telegram.chat_id")
	}

	if s := v.GetString("kafka.brokers"); s != "" {
		cfg.Kafka.Brokers = strings.Split(s, ",")
	}
	str("kafka.topic", &cfg.Kafka.Topic)

	if v.GetString("tracing.enabled") != "" {
		cfg.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	str("tracing.host", &cfg.Tracing.Host)
}

func (c *Config) validate() error {
	if c.Engine.TickInterval <= 0 {
		return errors.New("engine.tick_interval must be > 0")
	}
	if c.Exchange.RateLimitCalls <= 0 {
		return errors.New("exchange.rate_limit_calls must be > 0")
	}
	if c.Exchange.LowWater < 0 || c.Exchange.LowWater >= c.Exchange.RateLimitCalls {
		return errors.New("exchange.low_water must be in [0, rate_limit_calls)")
	}
	if c.Exchange.MaxRetries < 0 {
		return errors.New("exchange.max_retries must be >= 0")
	}
	for _, b := range c.Engine.DefaultBooks {
		if _, _, err := models.ParseBook(b); err != nil {
			return errors.Wrap(err, "engine.default_books")
		}
	}
	switch c.Storage.Driver {
	case "memory", "file", "postgres":
	default:
		return errors.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return errors.New("storage.dsn is required for postgres")
	}
	return nil
}
