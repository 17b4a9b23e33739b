package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// All helpers here work on 16-bit signed little-endian PCM. A trailing odd
// byte is never part of a sample and is ignored.

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[2*i:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
}

// DownmixMono averages each interleaved frame of channels samples into one
// mono sample. pcm is returned as is for channels <= 1; an incomplete final
// frame is dropped.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, 2*frames)
	for f := range frames {
		var sum int
		for ch := range channels {
			sum += int(sampleAt(pcm, f*channels+ch))
		}
		// The mean of int16 values always fits in an int16.
		putSample(out, f, int16(sum/channels))
	}
	return out
}

// ResampleMono16 converts mono PCM from srcRate to dstRate by linear
// interpolation between neighbouring samples. Invalid rates and equal rates
// return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	n := len(pcm) / 2
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || n == 0 {
		return pcm
	}
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}

	out := make([]byte, 2*outN)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		a := float64(sampleAt(pcm, j))
		b := a
		if j+1 < n {
			b = float64(sampleAt(pcm, j+1))
		}
		w := pos - float64(j)
		putSample(out, i, int16(a+(b-a)*w))
	}
	return out
}

// PCMToFloat32 scales samples into [-1, 1) for whisper.cpp.
func PCMToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sampleAt(pcm, i)) / 32768
	}
	return out
}

// RMS returns the root-mean-square amplitude of pcm in sample units
// (0 to 32768). It is 0 when pcm holds no whole sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sq float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sq += v * v
	}
	return math.Sqrt(sq / float64(n))
}

// layout describes a sample rate and channel count, e.g. "48000Hz stereo".
func layout(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	default:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	}
}
