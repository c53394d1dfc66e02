package capture

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestDecodeFloat32LE(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-1))
	got, err := DecodeFloat32LE(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0] != 0.25 || got[1] != -1 {
		t.Fatalf("unexpected samples %v", got)
	}
	if _, err := DecodeFloat32LE(make([]byte, 5)); err == nil {
		t.Fatal("expected error for misaligned data")
	}
}

func TestArgsSubstitutesPlaceholders(t *testing.T) {
	r := Recorder{Command: "rec --rate {rate} --channels {channels} --for {seconds}", SampleRate: 44100, Channels: 2}
	args, err := r.args(1500 * time.Millisecond)
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	want := []string{"rec", "--rate", "44100", "--channels", "2", "--for", "1.5"}
	if len(args) != len(want) {
		t.Fatalf("expected %v, got %v", want, args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, args)
		}
	}
}

func TestRecordRunsCommand(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.f32")
	data := make([]byte, 4*5)
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(i)/10))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := Recorder{Command: "cat " + path, SampleRate: 16000, Channels: 2}
	samples, err := r.Record(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("expected partial trailing frame dropped, got %d samples", len(samples))
	}
}
