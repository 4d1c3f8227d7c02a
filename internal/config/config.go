package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config contains runtime settings for the interview service and the live client.
type Config struct {
	BindAddr                string
	ShutdownTimeout         time.Duration
	CallInactivityTimeout   time.Duration
	MetricsNamespace        string
	PublicBaseURL           string
	AllowAnyOrigin          bool
	MaxUploadBytes          int64
	MockReplyToneDuration   time.Duration
	MockEvaluationScoreBase int
	MockSpeechBudget        int

	DatabaseURL string
	SQLitePath  string

	NATSURL   string
	NATSToken string

	LogLevel  string
	LogFormat string

	Client ClientConfig
}

// ClientConfig holds settings for the terminal interview client.
type ClientConfig struct {
	APIURL          string
	WSURL           string
	InterviewID     string
	ChunkInterval   time.Duration
	EndCallGrace    time.Duration
	UserCaptionTTL  time.Duration
	AICaptionTTL    time.Duration
	PersistTimeout  time.Duration
	FFmpegPath      string
	FFplayPath      string
	MicInputFormat  string
	MicInput        string
	MicCodec        string
	MicMode         string
	SpeakerMode     string
	SpeakerVolume   int
	LogFile         string
	AIVoice         string
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	DialTimeout     time.Duration
	MaxInboundBytes int64
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "intervue"),
		PublicBaseURL:           stringsTrimSpace("APP_PUBLIC_BASE_URL"),
		ShutdownTimeout:         15 * time.Second,
		CallInactivityTimeout:   10 * time.Minute,
		MaxUploadBytes:          25 << 20,
		MockReplyToneDuration:   1200 * time.Millisecond,
		MockEvaluationScoreBase: 60,
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		SQLitePath:              stringsTrimSpace("SQLITE_PATH"),
		NATSURL:                 stringsTrimSpace("NATS_URL"),
		NATSToken:               stringsTrimSpace("NATS_TOKEN"),
		LogLevel:                envOrDefault("LOG_LEVEL", "info"),
		LogFormat:               envOrDefault("LOG_FORMAT", "json"),
		Client: ClientConfig{
			APIURL:      envOrDefault("INTERVUE_API_URL", "http://localhost:8080"),
			WSURL:       stringsTrimSpace("INTERVUE_WS_URL"),
			InterviewID: stringsTrimSpace("INTERVUE_INTERVIEW_ID"),
			// MediaRecorder-style timeslice: one chunk per second.
			ChunkInterval:   1000 * time.Millisecond,
			EndCallGrace:    2 * time.Second,
			UserCaptionTTL:  7 * time.Second,
			AICaptionTTL:    9 * time.Second,
			PersistTimeout:  30 * time.Second,
			FFmpegPath:      envOrDefault("INTERVUE_FFMPEG_PATH", "ffmpeg"),
			FFplayPath:      envOrDefault("INTERVUE_FFPLAY_PATH", "ffplay"),
			MicInputFormat:  envOrDefault("INTERVUE_MIC_FORMAT", defaultMicFormat()),
			MicInput:        envOrDefault("INTERVUE_MIC_INPUT", defaultMicInput()),
			MicCodec:        envOrDefault("INTERVUE_MIC_CODEC", "pcm"),
			MicMode:         strings.ToLower(envOrDefault("INTERVUE_MIC_MODE", "auto")),
			SpeakerMode:     strings.ToLower(envOrDefault("INTERVUE_SPEAKER_MODE", "auto")),
			SpeakerVolume:   100,
			LogFile:         envOrDefault("INTERVUE_LOG_FILE", "intervue.log"),
			AIVoice:         stringsTrimSpace("INTERVUE_AI_VOICE"),
			PingInterval:    20 * time.Second,
			WriteTimeout:    10 * time.Second,
			DialTimeout:     10 * time.Second,
			MaxInboundBytes: 16 << 20,
		},
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MockReplyToneDuration, err = durationFromEnv("APP_MOCK_REPLY_TONE", cfg.MockReplyToneDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	maxUpload, err := intFromEnv("APP_MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	cfg.MockEvaluationScoreBase, err = intFromEnv("APP_MOCK_SCORE_BASE", cfg.MockEvaluationScoreBase)
	if err != nil {
		return Config{}, err
	}
	cfg.MockSpeechBudget, err = intFromEnv("APP_MOCK_SPEECH_BUDGET", cfg.MockSpeechBudget)
	if err != nil {
		return Config{}, err
	}

	c := &cfg.Client
	c.ChunkInterval, err = durationFromEnv("INTERVUE_CHUNK_INTERVAL", c.ChunkInterval)
	if err != nil {
		return Config{}, err
	}
	c.EndCallGrace, err = durationFromEnv("INTERVUE_END_CALL_GRACE", c.EndCallGrace)
	if err != nil {
		return Config{}, err
	}
	c.UserCaptionTTL, err = durationFromEnv("INTERVUE_USER_CAPTION_TTL", c.UserCaptionTTL)
	if err != nil {
		return Config{}, err
	}
	c.AICaptionTTL, err = durationFromEnv("INTERVUE_AI_CAPTION_TTL", c.AICaptionTTL)
	if err != nil {
		return Config{}, err
	}
	c.PersistTimeout, err = durationFromEnv("INTERVUE_PERSIST_TIMEOUT", c.PersistTimeout)
	if err != nil {
		return Config{}, err
	}
	c.PingInterval, err = durationFromEnv("INTERVUE_PING_INTERVAL", c.PingInterval)
	if err != nil {
		return Config{}, err
	}
	c.SpeakerVolume, err = intFromEnv("INTERVUE_SPEAKER_VOLUME", c.SpeakerVolume)
	if err != nil {
		return Config{}, err
	}

	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost" + cfg.BindAddr
		if !strings.HasPrefix(cfg.BindAddr, ":") {
			cfg.PublicBaseURL = "http://" + cfg.BindAddr
		}
	}
	if c.WSURL == "" {
		c.WSURL, err = wsURLFromAPI(c.APIURL)
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.CallInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MockSpeechBudget < 0 {
		return Config{}, fmt.Errorf("APP_MOCK_SPEECH_BUDGET must be >= 0")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.DatabaseURL != "" && cfg.SQLitePath != "" {
		return Config{}, fmt.Errorf("DATABASE_URL and SQLITE_PATH are mutually exclusive")
	}
	if c.ChunkInterval < 20*time.Millisecond {
		return Config{}, fmt.Errorf("INTERVUE_CHUNK_INTERVAL must be at least 20ms")
	}
	if c.EndCallGrace < 0 {
		return Config{}, fmt.Errorf("INTERVUE_END_CALL_GRACE must be >= 0")
	}
	switch c.MicCodec {
	case "webm", "pcm":
	default:
		return Config{}, fmt.Errorf("INTERVUE_MIC_CODEC must be webm or pcm")
	}
	switch c.MicMode {
	case "auto", "ffmpeg", "tone":
	default:
		return Config{}, fmt.Errorf("INTERVUE_MIC_MODE must be auto, ffmpeg or tone")
	}
	switch c.SpeakerMode {
	case "auto", "ffplay", "mute":
	default:
		return Config{}, fmt.Errorf("INTERVUE_SPEAKER_MODE must be auto, ffplay or mute")
	}
	if c.SpeakerVolume < 0 || c.SpeakerVolume > 100 {
		return Config{}, fmt.Errorf("INTERVUE_SPEAKER_VOLUME must be between 0 and 100")
	}

	return cfg, nil
}

// wsURLFromAPI derives the interviewer websocket endpoint from the REST base URL.
func wsURLFromAPI(api string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(api))
	if err != nil {
		return "", fmt.Errorf("INTERVUE_API_URL parse error: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("INTERVUE_API_URL has unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/interview"
	return u.String(), nil
}

func defaultMicFormat() string {
	if runtime.GOOS == "darwin" {
		return "avfoundation"
	}
	return "pulse"
}

func defaultMicInput() string {
	if runtime.GOOS == "darwin" {
		// audio-only; avoids opening the camera.
		return "none:0"
	}
	return "default"
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
