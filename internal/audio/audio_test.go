package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := []byte{
		0x00, 0x00,
		0xE8, 0x03, // 1000
		0x18, 0xFC, // -1000
	}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	got, sr, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if sr != 16000 {
		t.Fatalf("sampleRate = %d, want 16000", sr)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm mismatch: got=%v want=%v", got, pcm)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAVPCM16([]byte("hello world!")); err == nil {
		t.Fatalf("DecodeWAVPCM16() expected error")
	}
}

func TestSineToneStats(t *testing.T) {
	pcm := SineTonePCM16LE(440, 16000, 100*time.Millisecond, 0.5)
	if len(pcm) != 1600*2 {
		t.Fatalf("len(pcm) = %d, want %d", len(pcm), 3200)
	}
	peak, rms := PCM16LEStats(pcm)
	if peak < 15000 || peak > 16400 {
		t.Fatalf("peak = %d, want about 16383", peak)
	}
	if rms < 0.3 || rms > 0.4 {
		t.Fatalf("rms = %.3f, want about 0.354", rms)
	}
}

func TestSniffContentType(t *testing.T) {
	wav, _ := EncodeWAVPCM16LE([]byte{0, 0}, 8000)
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"wav", wav, ContentTypeWAV},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, ContentTypeWebM},
		{"ogg", []byte("OggS\x00"), ContentTypeOgg},
		{"mp3", []byte("ID3\x04"), ContentTypeMPEG},
		{"raw", []byte{0x01, 0x02}, ContentTypeRaw},
	}
	for _, tc := range cases {
		if got := SniffContentType(tc.in); got != tc.want {
			t.Fatalf("%s: SniffContentType() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestContentTypeForFormat(t *testing.T) {
	if got := ContentTypeForFormat("audio/wav", nil); got != ContentTypeWAV {
		t.Fatalf("ContentTypeForFormat(audio/wav) = %q", got)
	}
	if got := ContentTypeForFormat("", []byte("OggS")); got != ContentTypeOgg {
		t.Fatalf("ContentTypeForFormat(empty) = %q, want sniffed ogg", got)
	}
	if got := Extension(ContentTypeWebM); got != ".webm" {
		t.Fatalf("Extension(webm) = %q", got)
	}
}
