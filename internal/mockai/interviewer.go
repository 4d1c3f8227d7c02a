package mockai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/intervue/internal/audio"
	"github.com/ent0n29/intervue/internal/observability"
	"github.com/ent0n29/intervue/internal/protocol"
)

const (
	defaultSampleRate      = 24000
	defaultReplyTone       = 1200 * time.Millisecond
	defaultScoreBase       = 60
	defaultMaxSegmentBytes = 8 << 20

	unclearTranscript = "(couldn't transcribe)"
	rateLimitMessage  = "Text-to-speech rate limit reached."
)

// AudioFrame is one binary websocket frame, in either direction.
type AudioFrame struct {
	Data []byte
}

// Config tunes the scripted interviewer.
type Config struct {
	// ReplyTone is the length of the synthesized reply audio.
	ReplyTone  time.Duration
	SampleRate int
	ScoreBase  int
	// SpeechBudget caps how many replies per call get audio; 0 means unlimited.
	SpeechBudget    int
	MaxSegmentBytes int
	Logger          *slog.Logger
}

// Exchange is one entry of the interviewer's running history.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result summarizes a finished call.
type Result struct {
	Meta       protocol.InterviewMeta
	History    []Exchange
	Segments   int
	Evaluation json.RawMessage
	// EndedByClient is true when the call finished on end_call rather than a disconnect.
	EndedByClient bool
}

// Interviewer is a deterministic stand-in for the speech/LLM backend.
type Interviewer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Interviewer {
	if cfg.ReplyTone <= 0 {
		cfg.ReplyTone = defaultReplyTone
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.ScoreBase <= 0 {
		cfg.ScoreBase = defaultScoreBase
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = defaultMaxSegmentBytes
	}
	return &Interviewer{cfg: cfg, logger: observability.OrDiscard(cfg.Logger)}
}

type call struct {
	iv       *Interviewer
	outbound chan<- any
	voice    string
	buf      bytes.Buffer
	spoken   int
	result   Result
}

// RunConnection consumes decoded client messages and AudioFrames from inbound
// and writes protocol messages and AudioFrames to outbound. It returns when
// the client ends the call, inbound closes, or ctx is cancelled.
func (iv *Interviewer) RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) (Result, error) {
	c := &call{iv: iv, outbound: outbound}
	for {
		select {
		case <-ctx.Done():
			return c.result, ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return c.result, nil
			}
			done, err := c.handle(ctx, msg)
			if err != nil {
				return c.result, err
			}
			if done {
				return c.result, nil
			}
		}
	}
}

func (c *call) handle(ctx context.Context, msg any) (bool, error) {
	switch m := msg.(type) {
	case AudioFrame:
		if c.buf.Len()+len(m.Data) > c.iv.cfg.MaxSegmentBytes {
			c.iv.logger.Warn("segment too large, dropping frame", "buffered", c.buf.Len(), "frame", len(m.Data))
			return false, nil
		}
		c.buf.Write(m.Data)
		return false, nil
	case protocol.InterviewContext:
		return false, c.onContext(ctx, m.Data)
	case protocol.SegmentEnd:
		return false, c.onSegmentEnd(ctx)
	case protocol.EndCall:
		return true, c.onEndCall(ctx)
	default:
		return false, nil
	}
}

func (c *call) onContext(ctx context.Context, meta protocol.InterviewMeta) error {
	c.result.Meta = meta
	c.voice = strings.TrimSpace(meta.AIVoice)
	greeting := Greeting(meta.Role)
	c.result.History = append(c.result.History, Exchange{Role: "assistant", Content: greeting})
	if err := c.send(ctx, protocol.AssistantText{Type: protocol.TypeAssistantText, Transcript: "", Text: greeting}); err != nil {
		return err
	}
	return c.speak(ctx, greeting)
}

func (c *call) onSegmentEnd(ctx context.Context) error {
	c.result.Segments++
	transcript := Transcribe(c.buf.Bytes())
	c.buf.Reset()
	if transcript == "" {
		transcript = unclearTranscript
	}
	c.result.History = append(c.result.History, Exchange{Role: "user", Content: transcript})

	reply := Reply(c.result.Meta, c.result.Segments)
	c.result.History = append(c.result.History, Exchange{Role: "assistant", Content: reply})

	if err := c.send(ctx, protocol.AssistantText{Type: protocol.TypeAssistantText, Transcript: transcript, Text: reply}); err != nil {
		return err
	}
	return c.speak(ctx, reply)
}

func (c *call) onEndCall(ctx context.Context) error {
	report := Evaluate(c.result.History, c.result.Meta, c.iv.cfg.ScoreBase)
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	c.result.Evaluation = raw
	c.result.EndedByClient = true
	return c.send(ctx, protocol.Evaluation{Type: protocol.TypeEvaluation, Result: raw})
}

func (c *call) speak(ctx context.Context, text string) error {
	if budget := c.iv.cfg.SpeechBudget; budget > 0 && c.spoken >= budget {
		return c.send(ctx, protocol.RateLimitError{Type: protocol.TypeRateLimitError, Message: rateLimitMessage})
	}
	wav, err := Synthesize(text, c.voice, c.iv.cfg.SampleRate, c.iv.cfg.ReplyTone)
	if err != nil {
		c.iv.logger.Warn("synthesize failed", "error", err)
		return nil
	}
	c.spoken++
	if err := c.send(ctx, protocol.AssistantAudio{Type: protocol.TypeAssistantAudio, AudioFormat: audio.ContentTypeWAV}); err != nil {
		return err
	}
	return c.send(ctx, AudioFrame{Data: wav})
}

func (c *call) send(ctx context.Context, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.outbound <- msg:
		return nil
	}
}

var questions = map[string][]string{
	"easy": {
		"What drew you to the %s role?",
		"Walk me through a project you are proud of.",
		"How do you approach learning a new tool?",
		"Tell me about a time you asked for help.",
	},
	"medium": {
		"What does a typical day look like for a %s on your team?",
		"Describe a production issue you debugged end to end.",
		"How would you design a rate limiter for a public API?",
		"Tell me about a trade-off you made under a deadline.",
	},
	"hard": {
		"As a %s, how would you shard a write-heavy table without downtime?",
		"Design a globally replicated queue with at-least-once delivery.",
		"How would you find a memory leak that only shows up after a week in production?",
		"Tell me about a technical decision you would reverse today.",
	},
}

// Greeting opens the interview for the given role.
func Greeting(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		role = "candidate"
	}
	return fmt.Sprintf("Hello! I'll be conducting your %s interview today. Let's begin. Tell me about yourself and your experience.", role)
}

// Reply acknowledges answer n (1-based) and asks the next question.
func Reply(meta protocol.InterviewMeta, n int) string {
	bank, ok := questions[strings.ToLower(strings.TrimSpace(meta.Difficulty))]
	if !ok {
		bank = questions["medium"]
	}
	role := strings.TrimSpace(meta.Role)
	if role == "" {
		role = "engineer"
	}
	q := bank[(n-1)%len(bank)]
	if strings.Contains(q, "%s") {
		q = fmt.Sprintf(q, role)
	}
	return "Thanks. " + q
}

// Transcribe describes a candidate segment. PCM WAV input is measured; other
// containers are reported by size.
func Transcribe(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if pcm, sr, err := audio.DecodeWAVPCM16(data); err == nil && sr > 0 {
		if len(pcm) == 0 {
			return ""
		}
		d := time.Duration(len(pcm)/2) * time.Second / time.Duration(sr)
		return fmt.Sprintf("I spoke for %.1f seconds.", d.Seconds())
	}
	return fmt.Sprintf("I sent %d bytes of %s audio.", len(data), strings.TrimPrefix(audio.SniffContentType(data), "audio/"))
}

// Synthesize renders text as a WAV tone. The pitch is derived from voice so
// different interviewer voices are distinguishable.
func Synthesize(text, voice string, sampleRate int, d time.Duration) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}
	pcm := audio.SineTonePCM16LE(voiceFrequency(voice), sampleRate, d, 0.2)
	return audio.EncodeWAVPCM16LE(pcm, sampleRate)
}

func voiceFrequency(voice string) int {
	if voice == "" {
		return 220
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(voice)))
	return 180 + int(h.Sum32()%240)
}

// Evaluate scores the conversation from how many answers were understood.
func Evaluate(history []Exchange, meta protocol.InterviewMeta, base int) protocol.Report {
	var answered, unclear int
	for _, ex := range history {
		if ex.Role != "user" {
			continue
		}
		if ex.Content == unclearTranscript {
			unclear++
			continue
		}
		answered++
	}

	score := float64(base + 6*answered - 4*unclear)
	if answered == 0 {
		score = 0
	}
	if score > 95 {
		score = 95
	}
	if score < 0 {
		score = 0
	}

	role := strings.TrimSpace(meta.Role)
	if role == "" {
		role = "candidate"
	}
	r := protocol.Report{OverallScore: &score}
	switch {
	case answered == 0:
		r.AreasForImprovement = []string{"Answer the interviewer's questions out loud"}
		r.BriefSummary = fmt.Sprintf("No answers were recorded in this %s interview.", role)
	default:
		r.Strengths = []string{
			fmt.Sprintf("Answered %d question(s)", answered),
			"Kept the conversation moving",
		}
		r.AreasForImprovement = []string{"Add concrete metrics to examples"}
		if unclear > 0 {
			r.AreasForImprovement = append(r.AreasForImprovement, "Speak closer to the microphone")
		}
		r.BriefSummary = fmt.Sprintf("Solid %s interview with %d answer(s).", role, answered)
	}
	return r
}
