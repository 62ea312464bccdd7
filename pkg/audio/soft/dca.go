package soft

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"
)

// DCA files carry 48 kHz stereo Opus in 20 ms frames.
const (
	dcaSampleRate = 48000
	dcaChannels   = 2
	dcaFrameSize  = dcaSampleRate * 20 / 1000 // 960 samples per channel

	// maxOpusPacket bounds a single frame; anything larger is corrupt.
	maxOpusPacket = 4000
)

var dcaMagic = [4]byte{'D', 'C', 'A', '1'}

// DecodeDCA decodes a DCA stream: an optional "DCA1" header followed by
// Opus packets, each prefixed with its length as a little-endian int16.
func DecodeDCA(r io.Reader) (*Decoded, error) {
	br := bufio.NewReader(r)
	if err := skipDCAHeader(br); err != nil {
		return nil, err
	}

	dec, err := gopus.NewDecoder(dcaSampleRate, dcaChannels)
	if err != nil {
		return nil, fmt.Errorf("soft: create opus decoder: %w", err)
	}

	out := &Decoded{SampleRate: dcaSampleRate}
	packet := make([]byte, maxOpusPacket)
	for frame := 0; ; frame++ {
		var size int16
		if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("soft: dca frame %d: read length: %w", frame, err)
		}
		if size <= 0 || int(size) > maxOpusPacket {
			return nil, fmt.Errorf("soft: dca frame %d: invalid length %d", frame, size)
		}
		if _, err := io.ReadFull(br, packet[:size]); err != nil {
			return nil, fmt.Errorf("soft: dca frame %d: read packet: %w", frame, err)
		}

		pcm, err := dec.Decode(packet[:size], dcaFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("soft: dca frame %d: opus decode: %w", frame, err)
		}
		out.Samples = appendInt16s(out.Samples, pcm)
	}
	return out, nil
}

// skipDCAHeader consumes the DCA1 magic and JSON metadata block if present.
func skipDCAHeader(br *bufio.Reader) error {
	head, err := br.Peek(len(dcaMagic))
	if err != nil || [4]byte(head) != dcaMagic {
		// Headerless (DCA0) stream or too short to have a header.
		return nil
	}
	if _, err := br.Discard(len(dcaMagic)); err != nil {
		return fmt.Errorf("soft: dca header: %w", err)
	}
	var metaLen int32
	if err := binary.Read(br, binary.LittleEndian, &metaLen); err != nil {
		return fmt.Errorf("soft: dca metadata length: %w", err)
	}
	if metaLen < 0 {
		return fmt.Errorf("soft: dca metadata length %d", metaLen)
	}
	if _, err := br.Discard(int(metaLen)); err != nil {
		return fmt.Errorf("soft: dca metadata: %w", err)
	}
	return nil
}

// appendInt16s converts interleaved int16 PCM to float32 and appends it.
func appendInt16s(dst []float32, pcm []int16) []float32 {
	for _, s := range pcm {
		dst = append(dst, float32(s)/32768)
	}
	return dst
}
