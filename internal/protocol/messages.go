package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket text payload variants.
type MessageType string

const (
	TypeInterviewContext MessageType = "interview_context"
	TypeSegmentEnd       MessageType = "segment_end"
	TypeFlush            MessageType = "flush"
	TypeEndCall          MessageType = "end_call"
	TypeAssistantText    MessageType = "assistant_text"
	TypeAssistantAudio   MessageType = "assistant_audio"
	TypeEvaluation       MessageType = "evaluation"
	TypeRateLimitError   MessageType = "rate_limit_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// InterviewMeta is the session metadata sent once when the channel opens.
type InterviewMeta struct {
	Title      string `json:"title"`
	Role       string `json:"role"`
	Difficulty string `json:"difficulty"`
	Notes      string `json:"notes"`
	AIVoice    string `json:"aiVoice,omitempty"`
}

type InterviewContext struct {
	Type MessageType   `json:"type"`
	Data InterviewMeta `json:"data"`
}

type SegmentEnd struct {
	Type MessageType `json:"type"`
}

type EndCall struct {
	Type MessageType `json:"type"`
}

// AssistantText carries the recognized user utterance and the interviewer's reply.
type AssistantText struct {
	Type       MessageType `json:"type"`
	Transcript string      `json:"transcript"`
	Text       string      `json:"text"`
}

// AssistantAudio announces the container format of the next binary frame.
type AssistantAudio struct {
	Type        MessageType `json:"type"`
	AudioFormat string      `json:"audio_format"`
}

type Evaluation struct {
	Type   MessageType     `json:"type"`
	Result json.RawMessage `json:"result"`
}

type RateLimitError struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Report is the decoded form of an evaluation result.
type Report struct {
	OverallScore        *float64 `json:"overall_score"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	BriefSummary        string   `json:"brief_summary"`
}

// Report decodes the evaluation result. Payloads that do not match the
// expected shape are returned verbatim as the summary.
func (e Evaluation) Report() Report {
	var r Report
	if len(e.Result) == 0 {
		return r
	}
	if err := json.Unmarshal(e.Result, &r); err != nil {
		return Report{BriefSummary: strings.TrimSpace(string(e.Result))}
	}
	return r
}

func NewInterviewContext(meta InterviewMeta) InterviewContext {
	return InterviewContext{Type: TypeInterviewContext, Data: meta}
}

func NewSegmentEnd() SegmentEnd { return SegmentEnd{Type: TypeSegmentEnd} }

func NewEndCall() EndCall { return EndCall{Type: TypeEndCall} }

// ParseServerMessage decodes a text frame sent by the interviewer.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAssistantText:
		var msg AssistantText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAssistantAudio:
		var msg AssistantAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeEvaluation:
		var msg Evaluation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeRateLimitError:
		var msg RateLimitError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseClientMessage decodes a text frame sent by the candidate's client.
// Bare non-JSON words such as "flush" are accepted as their type.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		env.Type = MessageType(strings.ToLower(strings.TrimSpace(string(raw))))
		raw = nil
	}

	switch env.Type {
	case TypeInterviewContext:
		var msg InterviewContext
		if raw == nil {
			return nil, errors.New("invalid interview_context")
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSegmentEnd, TypeFlush:
		return NewSegmentEnd(), nil
	case TypeEndCall:
		return NewEndCall(), nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of a decoded message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case InterviewContext:
		return m.Type, true
	case SegmentEnd:
		return m.Type, true
	case EndCall:
		return m.Type, true
	case AssistantText:
		return m.Type, true
	case AssistantAudio:
		return m.Type, true
	case Evaluation:
		return m.Type, true
	case RateLimitError:
		return m.Type, true
	default:
		return "", false
	}
}
