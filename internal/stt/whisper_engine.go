//go:build whisper_cpp

package stt

import (
	"errors"
	"fmt"
	"io"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/open-transcribe/internal/config"
)

type whisperModel struct {
	model whisper.Model
	path  string
}

// NewWhisperModel loads a ggml model through the whisper.cpp bindings.
// The bindings do not expose the GPU, no-speech threshold or special-token
// suppression knobs; whisper.cpp applies its own defaults for all three.
func NewWhisperModel(cfg config.WhisperConfig) (Model, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &whisperModel{model: model, path: cfg.ModelPath}, nil
}

func (m *whisperModel) Name() string { return "whisper.cpp" }

func (m *whisperModel) NewState() (State, error) {
	ctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	return &whisperState{ctx: ctx}, nil
}

func (m *whisperModel) Close() error {
	return m.model.Close()
}

type whisperState struct {
	ctx whisper.Context
	segmentList
}

func (s *whisperState) Full(params Params, samples []float32) error {
	if err := s.ctx.SetLanguage(params.Language); err != nil {
		return fmt.Errorf("set language %q: %w", params.Language, err)
	}
	s.ctx.SetTranslate(false)
	if params.Threads > 0 {
		s.ctx.SetThreads(uint(params.Threads))
	}
	if params.AudioContext > 0 {
		s.ctx.SetAudioCtx(uint(params.AudioContext))
	}
	s.ctx.SetTokenTimestamps(params.Timestamps)

	if err := s.ctx.Process(samples, nil, nil, nil); err != nil {
		return fmt.Errorf("whisper process: %w", err)
	}

	var segments segmentList
	for {
		seg, err := s.ctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("whisper next segment: %w", err)
		}
		raw := make([]ProbToken, len(seg.Tokens))
		for i, tok := range seg.Tokens {
			raw[i] = ProbToken{Text: tok.Text, P: tok.P}
		}
		segments = append(segments, Segment{
			Start:  seg.Start,
			End:    seg.End,
			Text:   seg.Text,
			Tokens: TokensFromProbabilities(raw),
		})
	}
	s.segmentList = segments
	return nil
}

func (s *whisperState) Close() error { return nil }
