package codec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"layeh.com/gopus"

	"github.com/MrWong99/callscribe/pkg/audio"
)

const (
	// opusFrameMs is the packet duration handed to libopus.
	opusFrameMs = 20

	// opusGranuleRate is the fixed clock of Ogg Opus granule positions.
	opusGranuleRate = 48000

	// opusPreSkip is the libopus encoder lookahead at 48 kHz.
	opusPreSkip = 312

	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000
)

// opusRates lists the input rates libopus accepts directly.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Opus encodes PCM as an Ogg Opus file. Input at a rate libopus does not
// accept is resampled to 48 kHz first. Multi-channel input beyond stereo is
// downmixed to mono.
type Opus struct{}

var _ Encoder = Opus{}

// Ext implements [Encoder].
func (Opus) Ext() string { return "ogg" }

// ContentType implements [Encoder].
func (Opus) ContentType() string { return "audio/ogg" }

// Encode implements [Encoder].
func (Opus) Encode(w io.Writer, pcm []byte, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("codec: opus: invalid format %d Hz / %d ch", sampleRate, channels)
	}
	if channels > 2 {
		pcm = audio.Downmix(pcm, channels)
		channels = 1
	}
	origRate := sampleRate
	if !slices.Contains(opusRates, sampleRate) {
		if channels == 2 {
			pcm = audio.Downmix(pcm, 2)
			channels = 1
		}
		pcm = audio.Resample(pcm, sampleRate, opusGranuleRate)
		sampleRate = opusGranuleRate
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return fmt.Errorf("codec: opus: create encoder: %w", err)
	}

	var serial [4]byte
	if _, err := rand.Read(serial[:]); err != nil {
		return fmt.Errorf("codec: opus: stream serial: %w", err)
	}
	ow := &oggWriter{w: w, serial: binary.LittleEndian.Uint32(serial[:])}

	if err := ow.writePage(opusHead(channels, origRate), oggFlagBOS, 0); err != nil {
		return err
	}
	if err := ow.writePage(opusTags(), oggFlagContinued, 0); err != nil {
		return err
	}

	samples := audio.Samples(pcm)
	frameSize := sampleRate * opusFrameMs / 1000
	step := frameSize * channels
	granuleStep := uint64(opusGranuleRate * opusFrameMs / 1000)

	var granule uint64
	if len(samples) == 0 {
		// An empty stream still needs an end-of-stream page.
		return ow.writePage(nil, oggFlagEOS, 0)
	}
	for off := 0; off < len(samples); off += step {
		frame := samples[off:min(off+step, len(samples))]
		if len(frame) < step {
			padded := make([]int16, step)
			copy(padded, frame)
			frame = padded
		}
		packet, err := enc.Encode(frame, frameSize, opusMaxPacket)
		if err != nil {
			return fmt.Errorf("codec: opus: encode frame at sample %d: %w", off, err)
		}
		granule += granuleStep
		flags := byte(oggFlagContinued)
		if off+step >= len(samples) {
			flags = oggFlagEOS
		}
		if err := ow.writePage(packet, flags, granule); err != nil {
			return err
		}
	}
	return nil
}

// opusHead builds the RFC 7845 identification header.
func opusHead(channels, inputRate int) []byte {
	h := make([]byte, 19)
	copy(h[0:8], "OpusHead")
	h[8] = 1
	h[9] = byte(channels)
	binary.LittleEndian.PutUint16(h[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(h[12:16], uint32(inputRate))
	return h
}

// opusTags builds a comment header with the vendor string and no comments.
func opusTags() []byte {
	const vendor = "callscribe"
	h := make([]byte, 8+4+len(vendor)+4)
	copy(h[0:8], "OpusTags")
	binary.LittleEndian.PutUint32(h[8:12], uint32(len(vendor)))
	copy(h[12:], vendor)
	return h
}
