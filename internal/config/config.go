// Package config loads typed application configuration from the
// environment: godotenv populates the process environment first, then
// os.Getenv reads it, with typed helpers for the numeric/boolean settings
// layered on top.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the server needs to run.
type Config struct {
	HTTPAddress string
	// PublicHost is the host (no scheme) Twilio should reach back to for the
	// Media Streams WebSocket; e.g. "bridge.example.com".
	PublicHost string

	TwilioAccountSID string
	TwilioAuthToken  string

	RealtimeAPIKey string
	RealtimeModel  string
	RealtimeURL    string

	DatabaseURL string

	NotifyTarget string
	CallLogDir   string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	SessionReadyTimeout time.Duration

	BargeInDebounceMs  int
	BargeInMinRemainMs int
}

// Load reads environment variables (via .env when present) and returns a
// Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, relying on process environment")
	}

	cfg := Config{
		HTTPAddress:      readString("HTTP_ADDRESS", ":8080"),
		PublicHost:       os.Getenv("PUBLIC_HOST"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),

		RealtimeAPIKey: os.Getenv("REALTIME_API_KEY"),
		RealtimeModel:  readString("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeURL:    readString("REALTIME_URL", "wss://api.openai.com/v1/realtime"),

		DatabaseURL: os.Getenv("DB_DSN"),

		NotifyTarget: readString("NOTIFY_TARGET", "log"),
		CallLogDir:   readString("CALL_LOG_DIR", "call-logs"),

		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         readString("SUPABASE_STORAGE_BUCKET", "call-artifacts"),

		SessionReadyTimeout: readDurationSeconds("SESSION_READY_TIMEOUT_SECONDS", 3),

		BargeInDebounceMs:  readInt("BARGE_IN_DEBOUNCE_MS", 1000),
		BargeInMinRemainMs: readInt("BARGE_IN_MIN_REMAIN_MS", 2000),
	}

	if cfg.TwilioAuthToken == "" {
		log.Println("config: TWILIO_AUTH_TOKEN not set - webhook signature validation will reject all requests")
	}
	if cfg.RealtimeAPIKey == "" {
		log.Println("config: REALTIME_API_KEY not set - the realtime model connection will fail")
	}
	if cfg.DatabaseURL == "" {
		log.Println("config: DB_DSN not set - tenant/reservation stores will fail to connect")
	}
	if cfg.PublicHost == "" {
		log.Println("config: PUBLIC_HOST not set - TwiML stream URLs will be wrong")
	}

	return cfg
}

func readString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func readDurationSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(readInt(key, fallbackSeconds)) * time.Second
}
