package mockai

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/intervue/internal/audio"
	"github.com/ent0n29/intervue/internal/protocol"
)

func runScript(t *testing.T, iv *Interviewer, script ...any) (Result, []any) {
	t.Helper()
	inbound := make(chan any, len(script))
	outbound := make(chan any, 64)
	for _, msg := range script {
		inbound <- msg
	}
	close(inbound)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := iv.RunConnection(ctx, inbound, outbound)
	if err != nil {
		t.Fatalf("RunConnection() error = %v", err)
	}
	close(outbound)
	var out []any
	for msg := range outbound {
		out = append(out, msg)
	}
	return res, out
}

func toneSegment(t *testing.T, d time.Duration) []byte {
	t.Helper()
	wav, err := audio.EncodeWAVPCM16LE(audio.SineTonePCM16LE(440, 16000, d, 0.3), 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	return wav
}

func TestGreetingThenReplyThenEvaluation(t *testing.T) {
	iv := New(Config{ReplyTone: 50 * time.Millisecond})
	meta := protocol.InterviewMeta{Role: "Backend Engineer", Difficulty: "medium", AIVoice: "alloy"}

	res, out := runScript(t, iv,
		protocol.NewInterviewContext(meta),
		AudioFrame{Data: toneSegment(t, 500*time.Millisecond)},
		protocol.NewSegmentEnd(),
		protocol.NewEndCall(),
	)

	wantTypes := []string{"assistant_text", "assistant_audio", "binary", "assistant_text", "assistant_audio", "binary", "evaluation"}
	if len(out) != len(wantTypes) {
		t.Fatalf("len(outbound) = %d, want %d (%v)", len(out), len(wantTypes), out)
	}
	for i, msg := range out {
		got := "binary"
		if mt, ok := protocol.TypeOf(msg); ok {
			got = string(mt)
		}
		if got != wantTypes[i] {
			t.Fatalf("outbound[%d] = %s, want %s", i, got, wantTypes[i])
		}
	}

	greeting := out[0].(protocol.AssistantText)
	if greeting.Transcript != "" || !strings.Contains(greeting.Text, "Backend Engineer") {
		t.Fatalf("greeting = %+v, want empty transcript naming the role", greeting)
	}
	reply := out[3].(protocol.AssistantText)
	if reply.Transcript != "I spoke for 0.5 seconds." {
		t.Fatalf("transcript = %q, want measured segment", reply.Transcript)
	}
	if ct := audio.SniffContentType(out[2].(AudioFrame).Data); ct != audio.ContentTypeWAV {
		t.Fatalf("reply audio content type = %q, want wav", ct)
	}

	if !res.EndedByClient || res.Segments != 1 {
		t.Fatalf("result = %+v, want ended by client with one segment", res)
	}
	report := out[6].(protocol.Evaluation).Report()
	if report.OverallScore == nil || *report.OverallScore != 66 {
		t.Fatalf("overall score = %v, want 66", report.OverallScore)
	}
}

func TestEmptySegmentIsUnclear(t *testing.T) {
	iv := New(Config{ReplyTone: 10 * time.Millisecond})
	res, out := runScript(t, iv, protocol.NewSegmentEnd())
	text := out[0].(protocol.AssistantText)
	if text.Transcript != unclearTranscript {
		t.Fatalf("transcript = %q, want %q", text.Transcript, unclearTranscript)
	}
	if res.EndedByClient {
		t.Fatalf("EndedByClient = true after inbound closed, want false")
	}
}

func TestSpeechBudgetSendsRateLimit(t *testing.T) {
	iv := New(Config{ReplyTone: 10 * time.Millisecond, SpeechBudget: 1})
	_, out := runScript(t, iv,
		protocol.NewInterviewContext(protocol.InterviewMeta{Role: "SRE"}),
		protocol.NewSegmentEnd(),
	)
	last := out[len(out)-1]
	if _, ok := last.(protocol.RateLimitError); !ok {
		t.Fatalf("last outbound = %T, want RateLimitError", last)
	}
}

func TestVoiceChangesPitch(t *testing.T) {
	if voiceFrequency("alloy") == voiceFrequency("") && voiceFrequency("nova") == voiceFrequency("") {
		t.Fatalf("voice names should move the tone away from the default pitch")
	}
}

func TestEvaluateWithoutAnswers(t *testing.T) {
	r := Evaluate([]Exchange{{Role: "assistant", Content: "hi"}}, protocol.InterviewMeta{}, 60)
	if r.OverallScore == nil || *r.OverallScore != 0 {
		t.Fatalf("score = %v, want 0", r.OverallScore)
	}
}

func TestReplyCyclesQuestionBank(t *testing.T) {
	meta := protocol.InterviewMeta{Role: "SRE", Difficulty: "hard"}
	first := Reply(meta, 1)
	if !strings.Contains(first, "SRE") {
		t.Fatalf("Reply(1) = %q, want role mentioned", first)
	}
	if Reply(meta, 1+len(questions["hard"])) != first {
		t.Fatalf("Reply should cycle through the question bank")
	}
}
