//go:build !whisper_cpp

package stt

import (
	"errors"

	"github.com/loqalabs/open-transcribe/internal/config"
)

// ErrWhisperUnavailable is returned when the binary was built without the
// whisper_cpp tag.
var ErrWhisperUnavailable = errors.New("whisper.cpp support not compiled in (build with -tags whisper_cpp)")

func NewWhisperModel(config.WhisperConfig) (Model, error) {
	return nil, ErrWhisperUnavailable
}
