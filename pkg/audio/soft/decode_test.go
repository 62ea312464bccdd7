package soft

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"layeh.com/gopus"
)

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"kick.wav", FormatWAV},
		{"dir/Loop.OGG", FormatOGG},
		{"a.oga", FormatOGG},
		{"x.mp3", FormatMP3},
		{"y.flac", FormatFLAC},
		{"voice.dca", FormatDCA},
		{"noext", ""},
	}
	for _, tt := range tests {
		if got := FormatFromPath(tt.path); got != tt.want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDecode_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("junk"), "aiff")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Decode = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeFile_WAV(t *testing.T) {
	t.Parallel()

	const frames = 800
	format := beep.Format{SampleRate: 8000, NumChannels: 2, Precision: 2}
	written := 0
	src := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if written >= frames {
			return 0, false
		}
		n := min(len(samples), frames-written)
		for i := range n {
			samples[i] = [2]float64{0.5, -0.5}
		}
		written += n
		return n, true
	})

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := wav.Encode(f, src, format); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	d, err := DecodeFile(path, "")
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if d.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", d.SampleRate)
	}
	if d.Frames() != frames {
		t.Errorf("Frames = %d, want %d", d.Frames(), frames)
	}
	if d.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", d.Duration())
	}
	if math.Abs(float64(d.Samples[0])-0.5) > 1e-3 || math.Abs(float64(d.Samples[1])+0.5) > 1e-3 {
		t.Errorf("first frame = %v/%v, want 0.5/-0.5", d.Samples[0], d.Samples[1])
	}
}

func TestDecodeFile_Missing(t *testing.T) {
	t.Parallel()

	if _, err := DecodeFile(filepath.Join(t.TempDir(), "none.wav"), ""); err == nil {
		t.Error("DecodeFile on missing file returned nil error")
	}
}

// encodeDCA encodes frames of silence-ish PCM as a DCA stream.
func encodeDCA(t *testing.T, frames int, header bool) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(dcaSampleRate, dcaChannels, gopus.Audio)
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}

	var buf bytes.Buffer
	if header {
		meta := []byte(`{"dca":{"version":1}}`)
		buf.Write(dcaMagic[:])
		_ = binary.Write(&buf, binary.LittleEndian, int32(len(meta)))
		buf.Write(meta)
	}
	pcm := make([]int16, dcaFrameSize*dcaChannels)
	for i := range pcm {
		pcm[i] = int16(1000 * math.Sin(float64(i)/10))
	}
	for range frames {
		packet, err := enc.Encode(pcm, dcaFrameSize, maxOpusPacket)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		_ = binary.Write(&buf, binary.LittleEndian, int16(len(packet)))
		buf.Write(packet)
	}
	return buf.Bytes()
}

func TestDecodeDCA(t *testing.T) {
	t.Parallel()

	for _, header := range []bool{false, true} {
		d, err := Decode(bytes.NewReader(encodeDCA(t, 3, header)), FormatDCA)
		if err != nil {
			t.Fatalf("header=%v: Decode: %v", header, err)
		}
		if d.SampleRate != dcaSampleRate {
			t.Errorf("header=%v: SampleRate = %d, want %d", header, d.SampleRate, dcaSampleRate)
		}
		if d.Frames() != 3*dcaFrameSize {
			t.Errorf("header=%v: Frames = %d, want %d", header, d.Frames(), 3*dcaFrameSize)
		}
	}
}

func TestDecodeDCA_Corrupt(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int16(-5))
	if _, err := DecodeDCA(&buf); err == nil {
		t.Error("negative frame length accepted")
	}

	truncated := encodeDCA(t, 1, false)
	if _, err := DecodeDCA(bytes.NewReader(truncated[:len(truncated)-3])); err == nil {
		t.Error("truncated packet accepted")
	}
}

func TestTone(t *testing.T) {
	t.Parallel()

	d := Tone(250, 40*time.Millisecond, 1000, 0.5)
	if d.Frames() != 40 {
		t.Fatalf("Frames = %d, want 40", d.Frames())
	}
	// Quarter period of 250 Hz at 1 kHz is exactly one frame.
	if got := d.Samples[2]; math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("sample at quarter period = %v, want 0.5", got)
	}
	if d.Samples[2] != d.Samples[3] {
		t.Error("tone channels differ")
	}
}
