package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

const (
	StoreHTTP   = "http"
	StoreMemory = "memory"

	PositionsHTTP   = "http"
	PositionsStatic = "static"
)

type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
		Console  bool   `toml:"console"` // 槽位事件打印到终端
	} `toml:"app"`

	Server struct {
		Addr string `toml:"addr"`
	} `toml:"server"`

	Targets struct {
		Percentages []float64 `toml:"percentages"`
	} `toml:"targets"`

	Store struct {
		Driver     string `toml:"driver"` // http | memory
		BaseURL    string `toml:"base_url"`
		TimeoutSec int    `toml:"timeout_sec"`
	} `toml:"store"`

	Positions struct {
		Driver     string           `toml:"driver"` // http | static
		BaseURL    string           `toml:"base_url"`
		TimeoutSec int              `toml:"timeout_sec"`
		Static     []StaticPosition `toml:"static"`
	} `toml:"positions"`

	Refresh struct {
		Schedule    string `toml:"schedule"`
		Concurrency int    `toml:"concurrency"`
	} `toml:"refresh"`

	Storage struct {
		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Enabled  bool   `toml:"enabled"`
			Addr     string `toml:"addr"`
			Password string `toml:"password"`
			DB       int    `toml:"db"`
			Prefix   string `toml:"prefix"`
			Stream   string `toml:"stream"`
			Channel  string `toml:"channel"`
			MaxLen   int64  `toml:"max_len"`
		} `toml:"redis"`
	} `toml:"storage"`
}

// StaticPosition 配置文件中声明的持仓
type StaticPosition struct {
	ID           int64    `toml:"id"`
	Ticker       string   `toml:"ticker"`
	Side         string   `toml:"side"`
	Qty          float64  `toml:"qty"`
	EntryPrice   float64  `toml:"entry_price"`
	CurrentPrice *float64 `toml:"current_price"`
	ExitPrice    *float64 `toml:"exit_price"`
	Status       string   `toml:"status"`
	Notes        string   `toml:"notes"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 环境变量覆盖配置文件（.env 由 main 加载）
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("TARGETWATCH_STORE_URL")); v != "" {
		cfg.Store.BaseURL = v
		if cfg.Store.Driver == "" {
			cfg.Store.Driver = StoreHTTP
		}
	}
	if v := strings.TrimSpace(getenv("TARGETWATCH_POSITIONS_URL")); v != "" {
		cfg.Positions.BaseURL = v
		if cfg.Positions.Driver == "" {
			cfg.Positions.Driver = PositionsHTTP
		}
	}
	if v := strings.TrimSpace(getenv("TARGETWATCH_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(getenv("DATABASE_URL")); v != "" {
		cfg.Storage.Postgres.DSN = v
		cfg.Storage.Postgres.Enabled = true
	}
	if v := strings.TrimSpace(getenv("REDIS_ADDR")); v != "" {
		cfg.Storage.Redis.Addr = v
		cfg.Storage.Redis.Enabled = true
	}
	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		cfg.App.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if len(cfg.Targets.Percentages) == 0 {
		cfg.Targets.Percentages = []float64{1, 3, 5, 10}
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreHTTP
	}
	if cfg.Store.TimeoutSec <= 0 {
		cfg.Store.TimeoutSec = 10
	}
	if cfg.Positions.Driver == "" {
		cfg.Positions.Driver = PositionsStatic
		if cfg.Positions.BaseURL != "" {
			cfg.Positions.Driver = PositionsHTTP
		}
	}
	if cfg.Positions.TimeoutSec <= 0 {
		cfg.Positions.TimeoutSec = 10
	}
	if cfg.Refresh.Schedule == "" {
		cfg.Refresh.Schedule = "@every 30s"
	}
	if cfg.Refresh.Concurrency <= 0 {
		cfg.Refresh.Concurrency = 8
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/targetwatch.db"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "targetwatch"
	}
}

func validate(cfg *Config) error {
	cfg.Targets.Percentages = normalizePercentages(cfg.Targets.Percentages)
	if len(cfg.Targets.Percentages) == 0 {
		return errors.New("targets.percentages has no finite values")
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch cfg.Store.Driver {
	case StoreHTTP:
		if strings.TrimSpace(cfg.Store.BaseURL) == "" {
			return errors.New("store.base_url empty but driver is http")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.driver %q unknown", cfg.Store.Driver)
	}

	cfg.Positions.Driver = strings.ToLower(strings.TrimSpace(cfg.Positions.Driver))
	switch cfg.Positions.Driver {
	case PositionsHTTP:
		if strings.TrimSpace(cfg.Positions.BaseURL) == "" {
			return errors.New("positions.base_url empty but driver is http")
		}
	case PositionsStatic:
		for i, p := range cfg.Positions.Static {
			if strings.TrimSpace(p.Ticker) == "" {
				return fmt.Errorf("positions.static[%d].ticker is empty", i)
			}
			side := strings.ToLower(strings.TrimSpace(p.Side))
			if side != "long" && side != "short" {
				return fmt.Errorf("positions.static[%d].side %q must be long or short", i, p.Side)
			}
		}
	default:
		return fmt.Errorf("positions.driver %q unknown", cfg.Positions.Driver)
	}

	if _, err := cron.ParseStandard(cfg.Refresh.Schedule); err != nil {
		return fmt.Errorf("refresh.schedule: %w", err)
	}

	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	if cfg.Storage.Redis.Enabled && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		return errors.New("storage.redis.addr empty but enabled")
	}
	return nil
}

func normalizePercentages(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	seen := map[float64]struct{}{}
	for _, p := range in {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
