package stt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/open-transcribe/internal/config"
	"github.com/mattn/go-shellwords"
)

// execModel drives an external recognizer. The command receives a 16 kHz mono
// 16-bit WAV via --audio and prints execResult JSON on stdout.
type execModel struct {
	cmd []string
	cfg config.WhisperConfig
}

type execResult struct {
	Segments []execSegment `json:"segments"`
}

type execSegment struct {
	StartMS int64       `json:"start_ms"`
	EndMS   int64       `json:"end_ms"`
	Text    string      `json:"text"`
	Tokens  []execToken `json:"tokens"`
}

type execToken struct {
	Text    string  `json:"text"`
	LogProb float32 `json:"logprob"`
}

func NewExecModel(cfg config.WhisperConfig) (Model, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("whisper command is empty")
	}
	return &execModel{cmd: args, cfg: cfg}, nil
}

func (m *execModel) Name() string { return "exec:" + m.cmd[0] }

func (m *execModel) NewState() (State, error) {
	return &execState{model: m}, nil
}

func (m *execModel) Close() error { return nil }

type execState struct {
	model *execModel
	segmentList
}

func (s *execState) Full(params Params, samples []float32) error {
	file, err := os.CreateTemp("", "transcribe_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeSamplesToWav(file, samples); err != nil {
		return err
	}

	base := s.model.cmd[0]
	cmdArgs := append([]string{}, s.model.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if s.model.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", s.model.cfg.ModelPath)
	}
	if params.Language != "" {
		cmdArgs = append(cmdArgs, "--language", params.Language)
	}
	cmdArgs = append(cmdArgs,
		"--threads", strconv.Itoa(params.Threads),
		"--audio-ctx", strconv.Itoa(params.AudioContext),
		"--no-speech-thold", strconv.FormatFloat(float64(params.NoSpeechThreshold), 'f', -1, 32),
		"--best-of", strconv.Itoa(params.BestOf),
	)
	if !params.UseGPU {
		cmdArgs = append(cmdArgs, "--no-gpu")
	}

	// Inference is not cancellable once started.
	command := exec.Command(base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("whisper command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode whisper response: %w", err)
	}
	segments := make(segmentList, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		tokens := make([]Token, len(seg.Tokens))
		for i, tok := range seg.Tokens {
			tokens[i] = Token{Text: tok.Text, LogProb: tok.LogProb}
		}
		segments = append(segments, Segment{
			Start:  time.Duration(seg.StartMS) * time.Millisecond,
			End:    time.Duration(seg.EndMS) * time.Millisecond,
			Text:   seg.Text,
			Tokens: tokens,
		})
	}
	s.segmentList = segments
	return nil
}

func (s *execState) Close() error { return nil }

func writeSamplesToWav(file *os.File, samples []float32) error {
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: TargetSampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buffer.Data[i] = int(s * 32767)
	}

	enc := wav.NewEncoder(file, TargetSampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
