package transcribe

import (
	"errors"
	"fmt"

	"github.com/loqalabs/open-transcribe/internal/audio"
)

// ErrEngineUnavailable is wrapped by EngineError when a job is submitted after
// the service has been closed.
var ErrEngineUnavailable = errors.New("engine unavailable")

// ValidationError rejects well-formed audio that cannot be transcribed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func tooShort(frames int) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf("audio is too short (less than 1 second): %d frames at %d Hz", frames, audio.TargetSampleRate)}
}

func tooLong(samples, limit int64) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf("audio is too long: %d samples after resampling to %d Hz exceeds the limit of %d", samples, audio.TargetSampleRate, limit)}
}

func badSampleRate(rate int) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf("unsupported sample rate %d Hz (must be between %d and %d)", rate, audio.MinSampleRate, audio.MaxSampleRate)}
}

// EngineError wraps any failure inside the engine worker.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// Kind groups errors by who is at fault.
type Kind int

const (
	KindServer Kind = iota
	KindClient
)

// Classify reports whether err was caused by the request (decode, resampling
// and validation failures) or by the service.
func Classify(err error) Kind {
	var (
		decodeErr     *audio.DecodeError
		resampleErr   *audio.ResamplingError
		validationErr *ValidationError
	)
	switch {
	case errors.As(err, &decodeErr), errors.As(err, &resampleErr), errors.As(err, &validationErr):
		return KindClient
	default:
		return KindServer
	}
}
