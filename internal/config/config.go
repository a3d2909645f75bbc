package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything read from the environment at startup.
type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	JudgeURL    string

	MaxSessions      int
	DefaultTimeLimit time.Duration
	ReadyCountdown   time.Duration
	FocusGrace       time.Duration
	IdleTimeout      time.Duration
	ResultLinger     time.Duration

	// Staleness bounds for polling clients.
	LeaderboardStaleness time.Duration
	SubmissionStaleness  time.Duration
	StatusStaleness      time.Duration
}

// Load reads configuration from environment variables with defaults that
// match the observed client behavior (2s start countdown, 3s focus grace,
// 10m idle destroy, 30s/2s/60s polling bounds).
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		JudgeURL:    getEnv("JUDGE_URL", ""),

		MaxSessions:      getInt("MAX_SESSIONS", 1000),
		DefaultTimeLimit: getDuration("DEFAULT_TIME_LIMIT", 5*time.Minute),
		ReadyCountdown:   getDuration("READY_COUNTDOWN", 2*time.Second),
		FocusGrace:       getDuration("FOCUS_GRACE", 3*time.Second),
		IdleTimeout:      getDuration("IDLE_TIMEOUT", 10*time.Minute),
		ResultLinger:     getDuration("RESULT_LINGER", time.Minute),

		LeaderboardStaleness: getDuration("LEADERBOARD_STALENESS", 30*time.Second),
		SubmissionStaleness:  getDuration("SUBMISSION_STALENESS", 2*time.Second),
		StatusStaleness:      getDuration("STATUS_STALENESS", 60*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
