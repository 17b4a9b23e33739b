// Package audio holds the PCM and WAV helpers shared by the capture sinks and
// the backend: decoding uploaded recordings, repairing the headers of WAV
// streams whose length was unknown while they were written, re-encoding
// canonical WAV files for providers, and simple signal measurements.
//
// All PCM handled by this package is 16-bit signed little-endian, interleaved
// when it has more than one channel.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// BitsPerSample is the sample width of every PCM buffer in this package.
	BitsPerSample = 16

	// HeaderSize is the length of a canonical PCM WAV header.
	HeaderSize = 44

	// wavFormatPCM is the WAVE_FORMAT_PCM format tag.
	wavFormatPCM = 1
)

var (
	// ErrInvalidWAV is returned when the input is not a RIFF/WAVE file or has
	// no PCM data chunk.
	ErrInvalidWAV = errors.New("audio: not a valid WAV file")

	// ErrUnsupportedFormat is returned for WAV files that are not integer PCM.
	ErrUnsupportedFormat = errors.New("audio: unsupported WAV encoding")
)

// Clip is a decoded recording.
type Clip struct {
	// PCM is 16-bit signed little-endian audio, interleaved by channel.
	PCM []byte

	// SampleRate is the sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Decode parses a WAV payload into a [Clip]. Streams written without a known
// length (RIFF or data sizes of 0 or 0xFFFFFFFF) are accepted: the sizes are
// recomputed from the payload length before decoding. Samples wider or
// narrower than 16 bits are converted to 16 bits.
func Decode(data []byte) (*Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(repairHeader(data)))
	if !d.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode pcm: %w", err)
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return nil, ErrInvalidWAV
	}
	return &Clip{
		PCM:        intBufferToPCM16(buf, int(d.BitDepth)),
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
	}, nil
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	bytesPerSec := c.SampleRate * c.Channels * (BitsPerSample / 8)
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(int64(len(c.PCM)) * int64(time.Second) / int64(bytesPerSec))
}

// RMS returns the root-mean-square energy across all samples of the clip.
func (c *Clip) RMS() float64 {
	return RMS(c.PCM)
}

// WAV encodes the clip as a canonical 44-byte-header WAV file.
func (c *Clip) WAV() []byte {
	return EncodeWAV(c.PCM, c.SampleRate, c.Channels)
}

// Mono returns the clip downmixed to one channel and resampled to rate. The
// receiver is returned unchanged when it already matches.
func (c *Clip) Mono(rate int) *Clip {
	if c.Channels == 1 && c.SampleRate == rate {
		return c
	}
	pcm := DownmixMono(c.PCM, c.Channels)
	pcm = ResampleMono16(pcm, c.SampleRate, rate)
	return &Clip{PCM: pcm, SampleRate: rate, Channels: 1}
}

// String implements [fmt.Stringer], e.g. "16000Hz mono 2.5s".
func (c *Clip) String() string {
	return layout(c.SampleRate, c.Channels) + " " + c.Duration().String()
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	buf := make([]byte, HeaderSize+len(pcm))
	putHeader(buf, sampleRate, channels, uint32(len(pcm)))
	copy(buf[HeaderSize:], pcm)
	return buf
}

// StreamHeader returns a WAV header for a stream whose length is not known
// when recording starts. Both size fields are set to 0xFFFFFFFF; [Decode]
// recomputes them from the final payload length.
func StreamHeader(sampleRate, channels int) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, sampleRate, channels, 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(buf[4:8], 0xFFFFFFFF)
	return buf
}

func putHeader(buf []byte, sampleRate, channels int, dataSize uint32) {
	bps := BitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)       // audio format
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
}

// repairHeader returns a copy of data whose RIFF size and data chunk size
// agree with the actual payload length. Inputs that do not start with a
// RIFF/WAVE preamble are returned as-is.
func repairHeader(data []byte) []byte {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data
	}
	out := bytes.Clone(data)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))

	off := 12
	for off+8 <= len(out) {
		id := string(out[off : off+4])
		size := int64(binary.LittleEndian.Uint32(out[off+4 : off+8]))
		avail := int64(len(out) - off - 8)
		if id == "data" {
			if size == 0 || size > avail {
				binary.LittleEndian.PutUint32(out[off+4:off+8], uint32(avail))
			}
			break
		}
		// Chunks are word aligned.
		next := int64(off) + 8 + size + size&1
		if next > int64(len(out)) {
			break
		}
		off = int(next)
	}
	return out
}

// intBufferToPCM16 converts decoded samples of any integer bit depth to
// 16-bit little-endian PCM.
func intBufferToPCM16(buf *goaudio.IntBuffer, bitDepth int) []byte {
	out := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		switch {
		case bitDepth == 8:
			// 8-bit WAV samples are unsigned.
			v = (v - 128) << 8
		case bitDepth > 16:
			v >>= bitDepth - 16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
