package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HTTP_ADDRESS", "PUBLIC_HOST", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN",
		"REALTIME_API_KEY", "REALTIME_MODEL", "REALTIME_URL", "DB_DSN",
		"NOTIFY_TARGET", "CALL_LOG_DIR", "SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY",
		"SUPABASE_STORAGE_BUCKET", "SESSION_READY_TIMEOUT_SECONDS",
		"BARGE_IN_DEBOUNCE_MS", "BARGE_IN_MIN_REMAIN_MS",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.HTTPAddress != ":8080" {
		t.Errorf("HTTPAddress = %q, want :8080", cfg.HTTPAddress)
	}
	if cfg.RealtimeModel != "gpt-4o-realtime-preview" {
		t.Errorf("RealtimeModel = %q, want default", cfg.RealtimeModel)
	}
	if cfg.RealtimeURL != "wss://api.openai.com/v1/realtime" {
		t.Errorf("RealtimeURL = %q, want default", cfg.RealtimeURL)
	}
	if cfg.NotifyTarget != "log" {
		t.Errorf("NotifyTarget = %q, want log", cfg.NotifyTarget)
	}
	if cfg.CallLogDir != "call-logs" {
		t.Errorf("CallLogDir = %q, want call-logs", cfg.CallLogDir)
	}
	if cfg.SupabaseBucket != "call-artifacts" {
		t.Errorf("SupabaseBucket = %q, want call-artifacts", cfg.SupabaseBucket)
	}
	if cfg.SessionReadyTimeout != 3*time.Second {
		t.Errorf("SessionReadyTimeout = %v, want 3s", cfg.SessionReadyTimeout)
	}
	if cfg.BargeInDebounceMs != 1000 {
		t.Errorf("BargeInDebounceMs = %d, want 1000", cfg.BargeInDebounceMs)
	}
	if cfg.BargeInMinRemainMs != 2000 {
		t.Errorf("BargeInMinRemainMs = %d, want 2000", cfg.BargeInMinRemainMs)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("HTTP_ADDRESS", ":9090")
	os.Setenv("REALTIME_MODEL", "gpt-4o-realtime-preview-2024")
	os.Setenv("SESSION_READY_TIMEOUT_SECONDS", "7")
	os.Setenv("TWILIO_AUTH_TOKEN", "secret")
	os.Setenv("BARGE_IN_DEBOUNCE_MS", "1500")
	os.Setenv("BARGE_IN_MIN_REMAIN_MS", "2500")
	defer clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddress != ":9090" {
		t.Errorf("HTTPAddress = %q, want :9090", cfg.HTTPAddress)
	}
	if cfg.RealtimeModel != "gpt-4o-realtime-preview-2024" {
		t.Errorf("RealtimeModel = %q, want overridden value", cfg.RealtimeModel)
	}
	if cfg.SessionReadyTimeout != 7*time.Second {
		t.Errorf("SessionReadyTimeout = %v, want 7s", cfg.SessionReadyTimeout)
	}
	if cfg.TwilioAuthToken != "secret" {
		t.Errorf("TwilioAuthToken = %q, want secret", cfg.TwilioAuthToken)
	}
	if cfg.BargeInDebounceMs != 1500 {
		t.Errorf("BargeInDebounceMs = %d, want 1500", cfg.BargeInDebounceMs)
	}
	if cfg.BargeInMinRemainMs != 2500 {
		t.Errorf("BargeInMinRemainMs = %d, want 2500", cfg.BargeInMinRemainMs)
	}
}

func TestReadDurationSeconds_InvalidFallsBackToDefault(t *testing.T) {
	os.Setenv("SESSION_READY_TIMEOUT_SECONDS", "not-a-number")
	defer os.Unsetenv("SESSION_READY_TIMEOUT_SECONDS")

	got := readDurationSeconds("SESSION_READY_TIMEOUT_SECONDS", 3)
	if got != 3*time.Second {
		t.Errorf("readDurationSeconds with invalid env = %v, want 3s fallback", got)
	}
}
