package capture

import (
	"time"

	"github.com/ent0n29/intervue/internal/audio"
)

// Segment is one finished utterance, ready to be sent as a single binary frame.
type Segment struct {
	Seq       int
	Data      []byte
	Chunks    int
	StartedAt time.Time
	Duration  time.Duration
}

// Empty reports whether the segment carries no audio.
func (s *Segment) Empty() bool {
	return s == nil || len(s.Data) == 0
}

// Encoder turns the ordered chunks of a segment into one transmittable payload.
type Encoder func(chunks [][]byte) []byte

// ConcatEncoder joins chunks as-is. Use it when the track already emits a
// self-describing container stream (webm).
func ConcatEncoder(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// WAVEncoder wraps raw PCM16LE mono chunks in a WAV container.
func WAVEncoder(sampleRate int) Encoder {
	return func(chunks [][]byte) []byte {
		pcm := ConcatEncoder(chunks)
		if len(pcm) == 0 {
			return nil
		}
		wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
		if err != nil {
			return nil
		}
		return wav
	}
}
