// collector/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config gathers every tunable the collector reads from the environment.
// Database credentials stay with the database package, which reads its own
// variables the same way.
type Config struct {
	Port string

	ReportSchedule string
	ReportTimezone string
	ReportLookback time.Duration

	InactivityTimeout time.Duration
	SessionReopen     bool

	JournalBufferSize  int
	JournalBatchSize   int
	JournalWorkerCount int
	JournalFlushEvery  time.Duration

	GeoBaseURL string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string
}

// Load reads the environment (after godotenv has populated it) and applies
// defaults for anything unset.
func Load() *Config {
	cfg := &Config{
		Port:               envString("PORT", "8080"),
		ReportSchedule:     envString("REPORT_SCHEDULE", "0 3 * * *"),
		ReportTimezone:     envString("REPORT_TIMEZONE", "Asia/Kolkata"),
		ReportLookback:     time.Duration(envInt("REPORT_LOOKBACK_HOURS", 24)) * time.Hour,
		InactivityTimeout:  time.Duration(envInt("INACTIVITY_TIMEOUT_SECONDS", 120)) * time.Second,
		SessionReopen:      envBool("SESSION_REOPEN", true),
		JournalBufferSize:  envInt("JOURNAL_BUFFER_SIZE", 1000),
		JournalBatchSize:   envInt("JOURNAL_BATCH_SIZE", 100),
		JournalWorkerCount: envInt("JOURNAL_WORKER_COUNT", 2),
		JournalFlushEvery:  time.Duration(envInt("JOURNAL_FLUSH_SECONDS", 5)) * time.Second,
		GeoBaseURL:         envString("GEOIP_BASE_URL", "https://ipapi.co"),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPPort:           envInt("SMTP_PORT", 587),
		SMTPUser:           os.Getenv("SMTP_USER"),
		SMTPPass:           os.Getenv("SMTP_PASS"),
		MailFrom:           envString("MAIL_FROM", os.Getenv("SMTP_USER")),
	}

	log.Printf("Configuration loaded: Port=%s, ReportSchedule=%q (%s), Lookback=%v, InactivityTimeout=%v, SessionReopen=%t",
		cfg.Port, cfg.ReportSchedule, cfg.ReportTimezone, cfg.ReportLookback, cfg.InactivityTimeout, cfg.SessionReopen)
	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid value %q for %s, using default %d.", v, key, fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Invalid value %q for %s, using default %t.", v, key, fallback)
		return fallback
	}
	return b
}
