package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Fatalf("PublicBaseURL = %q, want derived localhost URL", cfg.PublicBaseURL)
	}
	if cfg.Client.ChunkInterval != time.Second {
		t.Fatalf("ChunkInterval = %v, want 1s", cfg.Client.ChunkInterval)
	}
	if cfg.Client.EndCallGrace != 2*time.Second {
		t.Fatalf("EndCallGrace = %v, want 2s", cfg.Client.EndCallGrace)
	}
	if cfg.Client.UserCaptionTTL != 7*time.Second || cfg.Client.AICaptionTTL != 9*time.Second {
		t.Fatalf("caption TTLs = %v/%v, want 7s/9s", cfg.Client.UserCaptionTTL, cfg.Client.AICaptionTTL)
	}
	if cfg.Client.WSURL != "ws://localhost:8080/ws/interview" {
		t.Fatalf("WSURL = %q, want derived ws URL", cfg.Client.WSURL)
	}
	if cfg.Client.MicMode != "auto" || cfg.Client.SpeakerMode != "auto" {
		t.Fatalf("device modes = %q/%q, want auto/auto", cfg.Client.MicMode, cfg.Client.SpeakerMode)
	}
}

func TestLoadDerivesSecureWSURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("INTERVUE_API_URL", "https://api.example.test/base/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Client.WSURL != "wss://api.example.test/base/ws/interview" {
		t.Fatalf("WSURL = %q, want wss derived URL", cfg.Client.WSURL)
	}
}

func TestLoadUsesExplicitWSURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("INTERVUE_WS_URL", "ws://ai.local:8000/ws/interview")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Client.WSURL != "ws://ai.local:8000/ws/interview" {
		t.Fatalf("WSURL = %q, want explicit value", cfg.Client.WSURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, wantErr string
	}{
		{"INTERVUE_CHUNK_INTERVAL", "5ms", "INTERVUE_CHUNK_INTERVAL"},
		{"INTERVUE_END_CALL_GRACE", "soon", "INTERVUE_END_CALL_GRACE"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe", "APP_ALLOW_ANY_ORIGIN"},
		{"INTERVUE_MIC_CODEC", "mp3", "INTERVUE_MIC_CODEC"},
		{"APP_CALL_INACTIVITY_TIMEOUT", "1s", "APP_CALL_INACTIVITY_TIMEOUT"},
		{"APP_MOCK_SPEECH_BUDGET", "-1", "APP_MOCK_SPEECH_BUDGET"},
		{"INTERVUE_MIC_MODE", "usb", "INTERVUE_MIC_MODE"},
		{"INTERVUE_SPEAKER_MODE", "loud", "INTERVUE_SPEAKER_MODE"},
		{"INTERVUE_SPEAKER_VOLUME", "150", "INTERVUE_SPEAKER_VOLUME"},
	}
	for _, tc := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(tc.key, tc.value)
		_, err := Load()
		if err == nil {
			t.Fatalf("Load() with %s=%q expected error", tc.key, tc.value)
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("Load() error = %v, want mention of %s", err, tc.wantErr)
		}
	}
}

func TestLoadRejectsTwoStores(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/intervue")
	t.Setenv("SQLITE_PATH", "/tmp/intervue.db")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error when both stores are configured")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_CALL_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_PUBLIC_BASE_URL",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_MAX_UPLOAD_BYTES",
		"APP_MOCK_REPLY_TONE",
		"APP_MOCK_SCORE_BASE",
		"APP_MOCK_SPEECH_BUDGET",
		"DATABASE_URL",
		"SQLITE_PATH",
		"NATS_URL",
		"NATS_TOKEN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"INTERVUE_API_URL",
		"INTERVUE_WS_URL",
		"INTERVUE_INTERVIEW_ID",
		"INTERVUE_CHUNK_INTERVAL",
		"INTERVUE_END_CALL_GRACE",
		"INTERVUE_USER_CAPTION_TTL",
		"INTERVUE_AI_CAPTION_TTL",
		"INTERVUE_PERSIST_TIMEOUT",
		"INTERVUE_PING_INTERVAL",
		"INTERVUE_FFMPEG_PATH",
		"INTERVUE_FFPLAY_PATH",
		"INTERVUE_MIC_FORMAT",
		"INTERVUE_MIC_INPUT",
		"INTERVUE_MIC_CODEC",
		"INTERVUE_MIC_MODE",
		"INTERVUE_SPEAKER_MODE",
		"INTERVUE_SPEAKER_VOLUME",
		"INTERVUE_LOG_FILE",
		"INTERVUE_AI_VOICE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
