package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/zboyco/gt06hub/pkg/gt06"
)

// Config holds the gateway runtime parameters. Everything comes from the
// environment so the binary runs unmodified in containers.
type Config struct {
	TCPPort  string
	HTTPPort string

	LogLevel  string
	LogFormat string

	// StaticDir is served on "/" of the HTTP port (observer UI).
	StaticDir string

	IdleTimeout  time.Duration
	DrainTimeout time.Duration

	// QueueCap bounds each per-IMEI queue; zero means unbounded. On
	// overflow the oldest pending update is dropped.
	QueueCap int

	CoordinateMode gt06.CoordinateMode

	// Optional collaborators, disabled when empty.
	RedisAddr      string
	RabbitURL      string
	RabbitExchange string
	RabbitVHost    string
}

// LoadConfig reads the environment and applies defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		TCPPort:        getEnv("TCP_PORT", "5000"),
		HTTPPort:       getEnv("HTTP_PORT", "8081"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		StaticDir:      getEnv("STATIC_DIR", "web"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBITMQ_URL"),
		RabbitExchange: getEnv("RABBITMQ_EXCHANGE", "gt06.events"),
		RabbitVHost:    getEnv("RABBITMQ_VHOST", "/"),
	}

	idle, err := getEnvInt("IDLE_TIMEOUT", 300)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleTimeout = time.Duration(idle) * time.Second

	drain, err := getEnvInt("DRAIN_TIMEOUT", 5)
	if err != nil {
		return Config{}, err
	}
	cfg.DrainTimeout = time.Duration(drain) * time.Second

	if cfg.QueueCap, err = getEnvInt("QUEUE_CAP", 0); err != nil {
		return Config{}, err
	}

	if cfg.CoordinateMode, err = gt06.ParseCoordinateMode(getEnv("COORDINATE_MODE", "signed")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, val, err)
	}
	return n, nil
}
