package stt

import (
	"errors"
	"math"
	"time"
)

// TargetSampleRate is the only input rate the engines accept.
const TargetSampleRate = 16000

// ErrNoSegment is returned by State.Segment for an index outside the result.
var ErrNoSegment = errors.New("segment index out of range")

// Params is the per-call inference configuration. SuppressSpecial governs
// decoding only; the tokens reported in a Segment always include special
// tokens.
type Params struct {
	Language          string
	AudioContext      int
	NoSpeechThreshold float32
	Threads           int
	BestOf            int
	SuppressSpecial   bool
	Timestamps        bool
	UseGPU            bool
}

// Token is one decoded token with its log-probability.
type Token struct {
	Text    string
	LogProb float32
}

// ProbToken is a token as reported by engines that give a probability
// rather than a log-probability.
type ProbToken struct {
	Text string
	P    float32
}

// TokensFromProbabilities converts every token, special ones included, so
// that segment confidence averages over the full decoded sequence.
func TokensFromProbabilities(raw []ProbToken) []Token {
	tokens := make([]Token, len(raw))
	for i, tok := range raw {
		tokens[i] = Token{Text: tok.Text, LogProb: float32(math.Log(float64(tok.P)))}
	}
	return tokens
}

// Segment is one recognized span of speech as reported by an engine.
type Segment struct {
	Start  time.Duration
	End    time.Duration
	Text   string
	Tokens []Token
}

// Model is a loaded speech model. It is expensive to create and is shared for
// the lifetime of the process; callers serialize access to it.
type Model interface {
	Name() string
	NewState() (State, error)
	Close() error
}

// State holds the result of a single inference pass. A State is used by one
// call and then closed.
type State interface {
	Full(params Params, samples []float32) error
	NumSegments() int
	Segment(i int) (Segment, error)
	Close() error
}

// segmentList is the State result storage shared by the engines that collect
// all segments eagerly.
type segmentList []Segment

func (s segmentList) NumSegments() int { return len(s) }

func (s segmentList) Segment(i int) (Segment, error) {
	if i < 0 || i >= len(s) {
		return Segment{}, ErrNoSegment
	}
	return s[i], nil
}
