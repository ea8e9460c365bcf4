package audio

import "encoding/binary"

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// FrameBytes returns the byte length of ms milliseconds of mono 16-bit PCM
// at sampleRate.
func FrameBytes(sampleRate, ms int) int {
	return sampleRate * ms / 1000 * BytesPerSample
}

// Samples decodes little-endian 16-bit PCM into samples. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM encodes samples as little-endian 16-bit PCM.
func PCM(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Downmix averages interleaved channels into mono. One channel is returned
// unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	in := Samples(pcm)
	frames := len(in) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(in[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return PCM(out)
}

// Resample converts mono 16-bit PCM from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return pcm unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	in := Samples(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return PCM(out)
}
