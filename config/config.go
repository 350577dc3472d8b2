package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env          string `envconfig:"ENV" default:"local"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	BusBuffer    int    `envconfig:"BUS_BUFFER" default:"100"`
	StandbyLabel string `envconfig:"STANDBY_LABEL" default:"Standby"`
}

type StoreEnv struct {
	Type     string `envconfig:"STORE_TYPE" default:"memory"` // "memory", "yaml", "redis"
	YAMLPath string `envconfig:"STORE_YAML_PATH" default:".flowdeck/workflows.yaml"`
	// Redis settings (used when Type == "redis")
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	RedisPoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	RedisMinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	RedisIdleTimeout  time.Duration `envconfig:"REDIS_IDLE_TIMEOUT" default:"5m"`
}

type Env struct {
	BaseEnv
	StoreEnv
}

const namespace = "FLOWDECK"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
