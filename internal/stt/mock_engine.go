package stt

import (
	"fmt"
	"time"
)

type mockModel struct{}

// NewMockModel returns a model that reports one segment describing the input.
func NewMockModel() Model {
	return mockModel{}
}

func (mockModel) Name() string { return "mock" }

func (mockModel) NewState() (State, error) { return &mockState{}, nil }

func (mockModel) Close() error { return nil }

type mockState struct {
	segmentList
}

func (m *mockState) Full(params Params, samples []float32) error {
	if len(samples) == 0 {
		return fmt.Errorf("mock engine: no samples")
	}
	duration := time.Duration(len(samples)) * time.Second / TargetSampleRate
	m.segmentList = segmentList{{
		Start: 0,
		End:   duration,
		Text:  fmt.Sprintf("[%s transcript samples=%d]", params.Language, len(samples)),
		Tokens: []Token{
			{Text: "[mock]", LogProb: 0},
		},
	}}
	return nil
}

func (m *mockState) Close() error { return nil }
