package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
)

// BitDepth is the number of bits per little-endian signed PCM sample.
type BitDepth int

const (
	Depth16 BitDepth = 16
	Depth24 BitDepth = 24
	Depth32 BitDepth = 32
)

// ParseBitDepth converts a declared bit depth into a supported BitDepth.
func ParseBitDepth(n int) (BitDepth, error) {
	d := BitDepth(n)
	if !d.Valid() {
		return 0, &DecodeError{Reason: UnsupportedDepth, Depth: n}
	}
	return d, nil
}

// Valid reports whether d is one of the supported depths.
func (d BitDepth) Valid() bool {
	switch d {
	case Depth16, Depth24, Depth32:
		return true
	}
	return false
}

// FrameSize returns the number of bytes a single sample occupies.
func (d BitDepth) FrameSize() int {
	switch d {
	case Depth16:
		return 2
	case Depth24:
		return 3
	case Depth32:
		return 4
	}
	return 0
}

// MaxMagnitude is the scale between a full-range float sample and the integer word.
func (d BitDepth) MaxMagnitude() float64 {
	switch d {
	case Depth16:
		return math.MaxInt16
	case Depth24:
		return 8388607
	case Depth32:
		return math.MaxInt32
	}
	return 0
}

// DecodeReason names why a byte buffer could not be decoded.
type DecodeReason int

const (
	OddByteCount DecodeReason = iota + 1
	NotMultipleOf3
	NotMultipleOf4
	UnsupportedDepth
)

// DecodeError reports a malformed PCM payload for its declared bit depth.
type DecodeError struct {
	Reason DecodeReason
	Depth  int
	Bytes  int
}

func (e *DecodeError) Error() string {
	switch e.Reason {
	case OddByteCount:
		return fmt.Sprintf("invalid 16-bit audio data: odd number of bytes (%d)", e.Bytes)
	case NotMultipleOf3:
		return fmt.Sprintf("invalid 24-bit audio data: byte count (%d) not divisible by 3", e.Bytes)
	case NotMultipleOf4:
		return fmt.Sprintf("invalid 32-bit audio data: byte count (%d) not divisible by 4", e.Bytes)
	default:
		return fmt.Sprintf("unsupported bit depth: %d", e.Depth)
	}
}

// Decode converts little-endian signed PCM into float samples in [-1, 1].
// Trailing partial samples are rejected, never truncated.
func Decode(data []byte, depth BitDepth) ([]float32, error) {
	if err := checkLength(len(data), depth); err != nil {
		return nil, err
	}
	scale := depth.MaxMagnitude()
	n := len(data) / depth.FrameSize()
	samples := make([]float32, n)
	switch depth {
	case Depth16:
		for i := range samples {
			word := int16(binary.LittleEndian.Uint16(data[i*2:]))
			samples[i] = float32(float64(word) / scale)
		}
	case Depth24:
		for i := range samples {
			b := data[i*3 : i*3+3]
			word := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			samples[i] = float32(float64(word) / scale)
		}
	case Depth32:
		for i := range samples {
			word := int32(binary.LittleEndian.Uint32(data[i*4:]))
			samples[i] = float32(float64(word) / scale)
		}
	}
	return samples, nil
}

func checkLength(length int, depth BitDepth) error {
	switch depth {
	case Depth16:
		if length%2 != 0 {
			return &DecodeError{Reason: OddByteCount, Depth: int(depth), Bytes: length}
		}
	case Depth24:
		if length%3 != 0 {
			return &DecodeError{Reason: NotMultipleOf3, Depth: int(depth), Bytes: length}
		}
	case Depth32:
		if length%4 != 0 {
			return &DecodeError{Reason: NotMultipleOf4, Depth: int(depth), Bytes: length}
		}
	default:
		return &DecodeError{Reason: UnsupportedDepth, Depth: int(depth), Bytes: length}
	}
	return nil
}

// Encode converts float samples into little-endian signed PCM. Samples are
// scaled and truncated without dithering or clipping; callers keep them in range.
func Encode(samples []float32, depth BitDepth) ([]byte, error) {
	if !depth.Valid() {
		return nil, &DecodeError{Reason: UnsupportedDepth, Depth: int(depth)}
	}
	scale := depth.MaxMagnitude()
	words := make([]int, len(samples))
	for i, s := range samples {
		words[i] = int(float64(s) * scale)
	}
	return EncodeInts(words, depth)
}

// EncodeInts packs integer PCM words (as produced by WAV decoders) into bytes.
func EncodeInts(words []int, depth BitDepth) ([]byte, error) {
	size := depth.FrameSize()
	if size == 0 {
		return nil, &DecodeError{Reason: UnsupportedDepth, Depth: int(depth)}
	}
	out := make([]byte, len(words)*size)
	for i, w := range words {
		switch depth {
		case Depth16:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(w)))
		case Depth24:
			u := uint32(int32(w))
			out[i*3] = byte(u)
			out[i*3+1] = byte(u >> 8)
			out[i*3+2] = byte(u >> 16)
		case Depth32:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(w)))
		}
	}
	return out, nil
}

// NewBuffer wraps interleaved float samples with their declared format.
func NewBuffer(samples []float32, sampleRate, channels int, depth BitDepth) *goaudio.Float32Buffer {
	return &goaudio.Float32Buffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: int(depth),
	}
}

// Frames returns the number of whole interleaved frames in buf.
func Frames(buf *goaudio.Float32Buffer) int {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return 0
	}
	return len(buf.Data) / buf.Format.NumChannels
}
