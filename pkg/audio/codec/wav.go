package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderLen = 44

// WAV encodes PCM as a canonical 44-byte-header RIFF/WAVE file.
type WAV struct{}

var _ Encoder = WAV{}

// Ext implements [Encoder].
func (WAV) Ext() string { return "wav" }

// ContentType implements [Encoder].
func (WAV) ContentType() string { return "audio/wav" }

// Encode implements [Encoder].
func (WAV) Encode(w io.Writer, pcm []byte, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("codec: wav: invalid format %d Hz / %d ch", sampleRate, channels)
	}
	const bits = 16
	blockAlign := channels * bits / 8

	var h [wavHeaderLen]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+len(pcm)))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bits)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(len(pcm)))

	if _, err := w.Write(h[:]); err != nil {
		return fmt.Errorf("codec: wav: write header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("codec: wav: write data: %w", err)
	}
	return nil
}

// WAVInfo describes the PCM stream found by [ReadWAV].
type WAVInfo struct {
	SampleRate int
	Channels   int
	Bits       int
}

// ReadWAV parses a RIFF/WAVE stream and returns its format and raw sample
// data. Only uncompressed 16-bit PCM is accepted. Unknown chunks are skipped.
func ReadWAV(r io.Reader) (WAVInfo, []byte, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, nil, fmt.Errorf("codec: wav: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, nil, errors.New("codec: wav: not a RIFF/WAVE stream")
	}

	var (
		info    WAVInfo
		haveFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return WAVInfo{}, nil, fmt.Errorf("codec: wav: no data chunk: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVInfo{}, nil, fmt.Errorf("codec: wav: read fmt chunk: %w", err)
			}
			if size < 16 {
				return WAVInfo{}, nil, fmt.Errorf("codec: wav: short fmt chunk (%d bytes)", size)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return WAVInfo{}, nil, fmt.Errorf("codec: wav: unsupported format tag %d", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.Bits = int(binary.LittleEndian.Uint16(body[14:16]))
			if info.Bits != 16 {
				return WAVInfo{}, nil, fmt.Errorf("codec: wav: unsupported bit depth %d", info.Bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, nil, errors.New("codec: wav: data chunk before fmt chunk")
			}
			data, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return WAVInfo{}, nil, fmt.Errorf("codec: wav: read data chunk: %w", err)
			}
			return info, data, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return WAVInfo{}, nil, fmt.Errorf("codec: wav: skip %q chunk: %w", id, err)
			}
		}
	}
}
