package soft

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// ErrUnsupportedFormat is returned when no decoder exists for a format.
var ErrUnsupportedFormat = errors.New("soft: unsupported audio format")

// Supported container formats.
const (
	FormatWAV  = "wav"
	FormatOGG  = "ogg"
	FormatMP3  = "mp3"
	FormatFLAC = "flac"
	FormatDCA  = "dca"
)

// Decoded is fully decoded audio held in memory.
type Decoded struct {
	// SampleRate is the native rate in Hz.
	SampleRate int

	// Samples is interleaved stereo, left first, in [-1, 1].
	Samples []float32
}

// Frames returns the number of stereo frames.
func (d *Decoded) Frames() int { return len(d.Samples) / 2 }

// Duration returns the playback length at the native rate.
func (d *Decoded) Duration() time.Duration {
	if d.SampleRate <= 0 {
		return 0
	}
	return time.Duration(d.Frames()) * time.Second / time.Duration(d.SampleRate)
}

// String returns e.g. "48000Hz stereo 1.5s".
func (d *Decoded) String() string {
	return fmt.Sprintf("%dHz stereo %s", d.SampleRate, d.Duration())
}

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "oga":
		return FormatOGG
	case "wave":
		return FormatWAV
	}
	return ext
}

// DecodeFile decodes the file at path. An empty format is derived from the
// extension.
func DecodeFile(path, format string) (*Decoded, error) {
	if format == "" {
		format = FormatFromPath(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("soft: open %s: %w", path, err)
	}
	defer f.Close()

	d, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("soft: decode %s: %w", path, err)
	}
	return d, nil
}

// Decode decodes r as format. The reader is consumed but not closed.
func Decode(r io.Reader, format string) (*Decoded, error) {
	if format == FormatDCA {
		return DecodeDCA(r)
	}

	rc := io.NopCloser(r)
	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch format {
	case FormatWAV:
		s, f, err = wav.Decode(r)
	case FormatOGG:
		s, f, err = vorbis.Decode(rc)
	case FormatMP3:
		s, f, err = mp3.Decode(rc)
	case FormatFLAC:
		s, f, err = flac.Decode(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("soft: %s: %w", format, err)
	}
	defer s.Close()

	return drain(s, int(f.SampleRate))
}

// drain reads s to the end.
func drain(s beep.Streamer, sampleRate int) (*Decoded, error) {
	buf := make([][2]float64, 1024)
	out := &Decoded{SampleRate: sampleRate}
	for {
		n, ok := s.Stream(buf)
		for _, frame := range buf[:n] {
			out.Samples = append(out.Samples, float32(frame[0]), float32(frame[1]))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("soft: stream: %w", err)
	}
	return out, nil
}

// Tone returns a stereo sine wave of the given frequency and duration at
// sampleRate, with peak amplitude amp.
func Tone(frequency float64, duration time.Duration, sampleRate int, amp float64) *Decoded {
	frames := int(math.Round(duration.Seconds() * float64(sampleRate)))
	out := &Decoded{SampleRate: sampleRate, Samples: make([]float32, frames*2)}
	for i := range frames {
		s := float32(amp * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)))
		out.Samples[i*2] = s
		out.Samples[i*2+1] = s
	}
	return out
}
