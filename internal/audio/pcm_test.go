package audio

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	samples := []float32{0, 0.25, -0.25, 0.5, -0.5, 0.999, -0.999, 0.123456, -0.654321}
	for _, depth := range []BitDepth{Depth16, Depth24, Depth32} {
		data, err := Encode(samples, depth)
		if err != nil {
			t.Fatalf("encode %d: %v", depth, err)
		}
		if len(data) != len(samples)*depth.FrameSize() {
			t.Fatalf("depth %d: expected %d bytes, got %d", depth, len(samples)*depth.FrameSize(), len(data))
		}
		decoded, err := Decode(data, depth)
		if err != nil {
			t.Fatalf("decode %d: %v", depth, err)
		}
		step := 1 / depth.MaxMagnitude()
		for i := range samples {
			if diff := math.Abs(float64(decoded[i] - samples[i])); diff > step+1e-6 {
				t.Fatalf("depth %d sample %d: got %v want %v (diff %g)", depth, i, decoded[i], samples[i], diff)
			}
		}
	}
}

func TestDecodeKnownWords(t *testing.T) {
	got, err := Decode([]byte{0xff, 0x7f, 0x01, 0x80}, Depth16)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got[0] != 1 {
		t.Fatalf("expected 32767 to map to 1, got %v", got[0])
	}
	if got[1] != -1 {
		t.Fatalf("expected -32767 to map to -1, got %v", got[1])
	}

	got, err = Decode([]byte{0x00, 0x00, 0x80}, Depth24)
	if err != nil {
		t.Fatalf("decode 24: %v", err)
	}
	want := -8388608.0 / 8388607.0
	if math.Abs(float64(got[0])-want) > 1e-7 {
		t.Fatalf("expected sign-extended minimum %v, got %v", want, got[0])
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	cases := []struct {
		depth  BitDepth
		length int
		reason DecodeReason
		text   string
	}{
		{Depth16, 1001, OddByteCount, "odd number of bytes"},
		{Depth24, 10, NotMultipleOf3, "not divisible by 3"},
		{Depth32, 6, NotMultipleOf4, "not divisible by 4"},
	}
	for _, tc := range cases {
		_, err := Decode(make([]byte, tc.length), tc.depth)
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Fatalf("depth %d: expected DecodeError, got %v", tc.depth, err)
		}
		if derr.Reason != tc.reason {
			t.Fatalf("depth %d: expected reason %d, got %d", tc.depth, tc.reason, derr.Reason)
		}
		if derr.Bytes != tc.length {
			t.Fatalf("depth %d: expected byte count %d, got %d", tc.depth, tc.length, derr.Bytes)
		}
		if !strings.Contains(err.Error(), tc.text) {
			t.Fatalf("expected %q in %q", tc.text, err.Error())
		}
	}
}

func TestDecodeUnsupportedDepth(t *testing.T) {
	_, err := Decode(make([]byte, 8), BitDepth(8))
	var derr *DecodeError
	if !errors.As(err, &derr) || derr.Reason != UnsupportedDepth {
		t.Fatalf("expected unsupported depth error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported bit depth: 8") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if _, err := ParseBitDepth(8); err == nil {
		t.Fatal("expected ParseBitDepth(8) to fail")
	}
	if _, err := Encode([]float32{0}, BitDepth(12)); err == nil {
		t.Fatal("expected Encode with depth 12 to fail")
	}
}

func TestEncode24EmitsLowThreeBytes(t *testing.T) {
	data, err := EncodeInts([]int{-1, 0x123456}, Depth24)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0xff, 0xff, 0xff, 0x56, 0x34, 0x12}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, data[i], want[i])
		}
	}
}
