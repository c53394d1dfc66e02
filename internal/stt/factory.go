package stt

import (
	"fmt"

	"github.com/loqalabs/open-transcribe/internal/config"
)

// NewModel builds the engine selected by cfg.Mode.
func NewModel(cfg config.WhisperConfig) (Model, error) {
	switch cfg.Mode {
	case "whisper":
		return NewWhisperModel(cfg)
	case "exec":
		return NewExecModel(cfg)
	case "mock":
		return NewMockModel(), nil
	default:
		return nil, fmt.Errorf("unknown whisper mode %q", cfg.Mode)
	}
}

// ParamsFromConfig returns the fixed inference parameters: greedy decoding,
// special tokens suppressed and timestamps enabled.
func ParamsFromConfig(cfg config.WhisperConfig) Params {
	return Params{
		Language:          cfg.Language,
		AudioContext:      cfg.AudioContext,
		NoSpeechThreshold: float32(cfg.NoSpeechThreshold),
		Threads:           cfg.NumThreads,
		BestOf:            1,
		SuppressSpecial:   true,
		Timestamps:        true,
		UseGPU:            cfg.UseGPU,
	}
}
