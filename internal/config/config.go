// Package config loads the duel server's configuration from a
// layered stack: a local .env file (via godotenv, mirroring the
// teacher's env-var convention) supplies secrets and per-deployment
// values, while a config.yaml file supplies the less volatile
// settings — judge base URL, timeout, retry count and resolve-cache
// TTL, and room defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	JWTTTL      time.Duration

	LogLevel       string
	LogFile        string
	LogDevelopment bool

	Judge JudgeConfig
	Room  RoomConfig
}

type JudgeConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retryMax"`
	ResolveCache time.Duration `yaml:"resolveCacheTTL"`
}

type RoomConfig struct {
	QuestionCount int `yaml:"questionCount"`
	DurationMins  int `yaml:"durationMins"`
}

// fileConfig is the shape of config.yaml; only the fields the ambient
// stack doesn't already get from the environment live here.
type fileConfig struct {
	Judge JudgeConfig `yaml:"judge"`
	Room  RoomConfig  `yaml:"room"`
}

// Load reads .env (best-effort — its absence is not an error, mirroring
// the teacher's getenv-with-default pattern) then the yaml file at
// path, then layers environment variables over both.
func Load(yamlPath string) (Config, error) {
	_ = godotenv.Load()

	var fc fileConfig
	if raw, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", yamlPath, err)
		}
	}
	fc.Judge.fillDefaults()
	fc.Room.fillDefaults()

	cfg := Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTTTL:         24 * time.Hour,
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFile:        os.Getenv("LOG_FILE"),
		LogDevelopment: getenv("LOG_DEV", "") == "true",
		Judge:          fc.Judge,
		Room:           fc.Room,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	return cfg, nil
}

func (j *JudgeConfig) fillDefaults() {
	if j.BaseURL == "" {
		j.BaseURL = "https://codeforces.com/api"
	}
	if j.Timeout == 0 {
		j.Timeout = 20 * time.Second
	}
	if j.RetryMax == 0 {
		j.RetryMax = 3
	}
	if j.ResolveCache == 0 {
		j.ResolveCache = 5 * time.Minute
	}
}

func (r *RoomConfig) fillDefaults() {
	if r.QuestionCount == 0 {
		r.QuestionCount = 2
	}
	if r.DurationMins == 0 {
		r.DurationMins = 15
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
