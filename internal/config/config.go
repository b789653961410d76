package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr   string // API bind address
	LogDir string // logs directory

	DatabaseURL string // postgres DSN; empty means in-memory stores

	PublicAPIKeys []string
	AdminAPIKeys  []string
	PublicRPM     int
	PublicBurst   int
	AdminRPM      int
	AdminBurst    int

	SlackWebhook   string
	AllowedOrigins []string // empty allows every origin

	// probing defaults; per-session values override these
	Interval             time.Duration
	Timeout              time.Duration
	Concurrency          int
	Window               int
	ResolveFailThreshold int

	// alerting
	LossAlertThreshold float64
	AlertCooldown      time.Duration
	AlertPollInterval  time.Duration
	AlertOnRecovery    bool
}

func FromEnv() Config {
	cfg := Config{
		Addr:                 envStr("ADDR", "127.0.0.1:8080"),
		LogDir:               envStr("LOG_DIR", "logs"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		PublicAPIKeys:        envList("PUBLIC_API_KEYS"),
		AdminAPIKeys:         envList("ADMIN_API_KEYS"),
		PublicRPM:            envInt("PUBLIC_RPM", 120),
		PublicBurst:          envInt("PUBLIC_BURST", 60),
		AdminRPM:             envInt("ADMIN_RPM", 60),
		AdminBurst:           envInt("ADMIN_BURST", 30),
		SlackWebhook:         os.Getenv("SLACK_WEBHOOK"),
		AllowedOrigins:       envList("ALLOWED_ORIGINS"),
		Interval:             envMillis("PROBE_INTERVAL_MS", time.Second),
		Timeout:              envMillis("PROBE_TIMEOUT_MS", 3*time.Second),
		Concurrency:          envInt("MAX_CONCURRENT_PROBES", 8),
		Window:               envInt("STATS_WINDOW", 100),
		ResolveFailThreshold: envInt("RESOLVE_FAIL_THRESHOLD", 3),
		AlertCooldown:        envMillis("ALERT_COOLDOWN_MS", 5*time.Minute),
		AlertPollInterval:    envMillis("ALERT_POLL_MS", 10*time.Second),
		AlertOnRecovery:      envBool("ALERT_ON_RECOVERY", true),
	}

	cfg.LossAlertThreshold = 0.5
	if v := os.Getenv("LOSS_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.LossAlertThreshold = f
		}
	}
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}
