package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/ent0n29/intervue/internal/audio"
	"github.com/ent0n29/intervue/internal/capture"
	"github.com/ent0n29/intervue/internal/channel"
	"github.com/ent0n29/intervue/internal/config"
	"github.com/ent0n29/intervue/internal/live"
	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/persistence"
	"github.com/ent0n29/intervue/internal/playback"
)

const micSampleRate = 16000

// ClientOptions describe the interview the terminal client should run.
type ClientOptions struct {
	// Offline runs the interview service in-process on a loopback port.
	Offline    bool
	Title      string
	Role       string
	Difficulty string
	Notes      string
}

type DeviceInfo struct {
	Mic     string
	Speaker string
}

type Client struct {
	Session   *live.Session
	Interview persistence.Interview
	Devices   DeviceInfo
	APIURL    string

	// Cleanup releases the session and, in offline mode, the local service.
	Cleanup func() error
}

// BuildClient resolves devices and the interview, then builds a live session.
func BuildClient(ctx context.Context, cfg config.Config, opts ClientOptions, logger *slog.Logger) (*Client, error) {
	logger = observability.OrDiscard(logger)
	cc := cfg.Client
	var cleanups []func() error

	apiURL, wsURL := cc.APIURL, cc.WSURL
	if opts.Offline {
		base, stop, err := startLocalService(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, stop)
		apiURL = base
		wsURL = "ws" + strings.TrimPrefix(base, "http") + "/ws/interview"
	}
	fail := func(err error) (*Client, error) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			_ = cleanups[i]()
		}
		return nil, err
	}

	gateway := persistence.NewHTTPGateway(apiURL, cc.PersistTimeout)
	iv, err := resolveInterview(ctx, gateway, cc, opts)
	if err != nil {
		return fail(err)
	}

	device, encoder, contentType, micDetail := resolveMic(cc, logger.With("component", "capture"))
	player, speakerDetail, err := resolveSpeaker(cc, logger.With("component", "playback"))
	if err != nil {
		return fail(err)
	}

	channelURL, err := withInterviewID(wsURL, iv.ID)
	if err != nil {
		return fail(err)
	}

	meta := iv.Meta()
	if cc.AIVoice != "" {
		meta.AIVoice = cc.AIVoice
	}
	session := live.New(live.Config{
		InterviewID: iv.ID,
		Meta:        meta,
		Channel: channel.Config{
			URL:          channelURL,
			DialTimeout:  cc.DialTimeout,
			PingInterval: cc.PingInterval,
			WriteTimeout: cc.WriteTimeout,
			ReadLimit:    cc.MaxInboundBytes,
		},
		EndCallGrace:       cc.EndCallGrace,
		PersistTimeout:     cc.PersistTimeout,
		UserCaptionTTL:     cc.UserCaptionTTL,
		AICaptionTTL:       cc.AICaptionTTL,
		SegmentContentType: contentType,
		Logger:             logger.With("component", "live", "interview_id", iv.ID),
	}, live.Deps{
		Device:  device,
		Encoder: encoder,
		Player:  player,
		Gateway: gateway,
	})

	cleanups = append([]func() error{session.Close}, cleanups...)
	return &Client{
		Session:   session,
		Interview: iv,
		Devices:   DeviceInfo{Mic: micDetail, Speaker: speakerDetail},
		APIURL:    apiURL,
		Cleanup: func() error {
			var errs []error
			for _, c := range cleanups {
				errs = append(errs, c())
			}
			return errors.Join(errs...)
		},
	}, nil
}

func resolveInterview(ctx context.Context, gw persistence.Gateway, cc config.ClientConfig, opts ClientOptions) (persistence.Interview, error) {
	if id := strings.TrimSpace(cc.InterviewID); id != "" && !opts.Offline {
		iv, err := gw.GetInterview(ctx, id)
		if err != nil {
			return persistence.Interview{}, fmt.Errorf("load interview %s: %w", id, err)
		}
		return iv, nil
	}
	role := strings.TrimSpace(opts.Role)
	if role == "" {
		role = "Software Engineer"
	}
	iv, err := gw.CreateInterview(ctx, persistence.NewInterview{
		Title:      opts.Title,
		Role:       role,
		Difficulty: opts.Difficulty,
		Notes:      opts.Notes,
		AIVoice:    cc.AIVoice,
	})
	if err != nil {
		return persistence.Interview{}, fmt.Errorf("create interview: %w", err)
	}
	return iv, nil
}

func resolveMic(cc config.ClientConfig, logger *slog.Logger) (capture.Device, capture.Encoder, string, string) {
	tone := func(detail string) (capture.Device, capture.Encoder, string, string) {
		return &capture.ScriptedDevice{Next: capture.ToneSegments(micSampleRate, cc.ChunkInterval, 3)},
			capture.WAVEncoder(micSampleRate), audio.ContentTypeWAV, detail
	}
	mode := cc.MicMode
	if mode == "tone" {
		return tone("test tone")
	}
	if mode == "auto" {
		if _, err := exec.LookPath(cc.FFmpegPath); err != nil {
			logger.Warn("ffmpeg not found, using a test tone microphone", "path", cc.FFmpegPath)
			return tone("test tone (ffmpeg not found)")
		}
	}

	mic := &capture.FFmpegMic{
		Path:          cc.FFmpegPath,
		InputFormat:   cc.MicInputFormat,
		Input:         cc.MicInput,
		Codec:         cc.MicCodec,
		SampleRate:    micSampleRate,
		ChunkInterval: cc.ChunkInterval,
		Logger:        logger,
	}
	detail := fmt.Sprintf("ffmpeg %s %s (%s)", cc.MicInputFormat, cc.MicInput, cc.MicCodec)
	if cc.MicCodec == capture.CodecPCM {
		return mic, capture.WAVEncoder(micSampleRate), audio.ContentTypeWAV, detail
	}
	return mic, capture.ConcatEncoder, audio.ContentTypeWebM, detail
}

func resolveSpeaker(cc config.ClientConfig, logger *slog.Logger) (playback.Player, string, error) {
	mute := func(detail string) (playback.Player, string, error) {
		return playback.NewMemoryPlayer(1500 * time.Millisecond), detail, nil
	}
	switch cc.SpeakerMode {
	case "mute":
		return mute("muted")
	case "ffplay":
		p, err := playback.NewFFPlayPlayer(cc.FFplayPath, cc.SpeakerVolume, logger)
		if err != nil {
			return nil, "", fmt.Errorf("speaker init failed: %w", err)
		}
		return p, "ffplay", nil
	default:
		p, err := playback.NewFFPlayPlayer(cc.FFplayPath, cc.SpeakerVolume, logger)
		if err != nil {
			logger.Warn("ffplay unavailable, muting interviewer audio", "error", err)
			return mute("muted (ffplay not found)")
		}
		return p, "ffplay", nil
	}
}

func withInterviewID(raw, id string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("interviewer url: %w", err)
	}
	q := u.Query()
	q.Set("interview_id", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// startLocalService serves the interview API on an ephemeral loopback port.
func startLocalService(ctx context.Context, cfg config.Config, logger *slog.Logger) (string, func() error, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen for local service: %w", err)
	}
	base := "http://" + ln.Addr().String()
	cfg.PublicBaseURL = base
	cfg.BindAddr = ln.Addr().String()

	res, err := Build(ctx, cfg, logger.With("component", "local_service"))
	if err != nil {
		_ = ln.Close()
		return "", nil, err
	}
	srv := &http.Server{Handler: res.API.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("local service stopped", "error", err)
		}
	}()

	stop := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		return errors.Join(err, res.Cleanup())
	}
	return base, stop, nil
}
