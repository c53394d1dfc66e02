// Package capture records microphone audio by running an external capture
// command that writes interleaved 32-bit float little-endian PCM to stdout.
package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// DefaultCommand captures from the default ALSA input with ffmpeg. The
// {rate}, {channels} and {seconds} placeholders are substituted before running.
const DefaultCommand = "ffmpeg -hide_banner -loglevel error -f alsa -i default -ac {channels} -ar {rate} -t {seconds} -f f32le -"

type Recorder struct {
	Command    string
	SampleRate int
	Channels   int
}

// Record runs the capture command for d and returns the interleaved samples.
func (r Recorder) Record(ctx context.Context, d time.Duration) ([]float32, error) {
	if r.SampleRate <= 0 || r.Channels <= 0 {
		return nil, fmt.Errorf("invalid capture format: %d Hz, %d channels", r.SampleRate, r.Channels)
	}
	args, err := r.args(d)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d+10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	samples, err := DecodeFloat32LE(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("capture produced no audio")
	}
	frames := len(samples) / r.Channels
	return samples[:frames*r.Channels], nil
}

func (r Recorder) args(d time.Duration) ([]string, error) {
	command := r.Command
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	command = strings.NewReplacer(
		"{rate}", strconv.Itoa(r.SampleRate),
		"{channels}", strconv.Itoa(r.Channels),
		"{seconds}", strconv.FormatFloat(d.Seconds(), 'f', -1, 64),
	).Replace(command)

	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return args, nil
}

// DecodeFloat32LE converts raw f32le bytes into samples.
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 capture data: byte count (%d) not divisible by 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
