package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/open-transcribe/internal/audio"
	"github.com/loqalabs/open-transcribe/internal/stt"
)

type fakeModel struct {
	segments []stt.Segment
	fullErr  error
	segErrAt int
	delay    time.Duration
	block    chan struct{}

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	lastLen   atomic.Int64
	params    atomic.Value
}

func newFakeModel(segments ...stt.Segment) *fakeModel {
	return &fakeModel{segments: segments, segErrAt: -1}
}

func (m *fakeModel) Name() string                 { return "fake" }
func (m *fakeModel) Close() error                 { return nil }
func (m *fakeModel) NewState() (stt.State, error) { return &fakeState{model: m}, nil }

type fakeState struct {
	model *fakeModel
}

func (s *fakeState) Full(params stt.Params, samples []float32) error {
	m := s.model
	m.calls.Add(1)
	m.params.Store(params)
	m.lastLen.Store(int64(len(samples)))
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		prev := m.maxActive.Load()
		if n <= prev || m.maxActive.CompareAndSwap(prev, n) {
			break
		}
	}
	if m.block != nil {
		<-m.block
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.fullErr
}

func (s *fakeState) NumSegments() int { return len(s.model.segments) }

func (s *fakeState) Segment(i int) (stt.Segment, error) {
	if i == s.model.segErrAt {
		return stt.Segment{}, errors.New("token data unavailable")
	}
	return s.model.segments[i], nil
}

func (s *fakeState) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testParams() stt.Params {
	return stt.Params{Language: "en", AudioContext: 768, NoSpeechThreshold: 0.6, Threads: 2, BestOf: 1, SuppressSpecial: true, Timestamps: true}
}

func silence(seconds float64, rate, channels int) []byte {
	frames := int(seconds * float64(rate))
	return make([]byte, frames*channels*2)
}

func TestTranscribeEightKilohertzSilenceAccepted(t *testing.T) {
	model := newFakeModel()
	svc := NewService(model, testParams(), testLogger())
	defer svc.Close()

	out, err := svc.Transcribe(context.Background(), Request{Audio: silence(2, 8000, 1), SampleRate: 8000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatalf("expected silence to be accepted, got %v", err)
	}
	if len(out.Segments) != 0 || out.Combined != "" {
		t.Fatalf("expected empty output, got %+v", out)
	}
	if got := model.lastLen.Load(); got < 31999 || got > 32001 {
		t.Fatalf("expected about 32000 samples at the engine, got %d", got)
	}
}

func TestTranscribeTooShortRejectedBeforeEngine(t *testing.T) {
	model := newFakeModel()
	svc := NewService(model, testParams(), testLogger())
	defer svc.Close()

	_, err := svc.Transcribe(context.Background(), Request{Audio: silence(0.5, 16000, 1), SampleRate: 16000, Channels: 1, BitDepth: 16})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected too short message, got %q", err.Error())
	}
	if model.calls.Load() != 0 {
		t.Fatalf("engine must not be called for short audio")
	}
	if Classify(err) != KindClient {
		t.Fatalf("expected client error classification")
	}
}

func TestTranscribeOddByteCount(t *testing.T) {
	model := newFakeModel()
	var stages []Stage
	svc := NewService(model, testParams(), testLogger(), WithStageObserver(func(s Stage) { stages = append(stages, s) }))
	defer svc.Close()

	_, err := svc.Transcribe(context.Background(), Request{Audio: make([]byte, 32001), SampleRate: 16000, Channels: 1, BitDepth: 16})
	var derr *audio.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !strings.Contains(err.Error(), "odd number of bytes") {
		t.Fatalf("expected odd byte message, got %q", err.Error())
	}
	if len(stages) != 0 {
		t.Fatalf("expected no pipeline stages, got %v", stages)
	}
	if model.calls.Load() != 0 {
		t.Fatalf("engine must not be called for malformed audio")
	}
}

func TestTranscribeUnsupportedDepth(t *testing.T) {
	svc := NewService(newFakeModel(), testParams(), testLogger())
	defer svc.Close()

	_, err := svc.Transcribe(context.Background(), Request{Audio: make([]byte, 16000), SampleRate: 16000, Channels: 1, BitDepth: 8})
	if err == nil || Classify(err) != KindClient {
		t.Fatalf("expected client error for 8-bit audio, got %v", err)
	}
}

func TestTranscribeEmptyInput(t *testing.T) {
	model := newFakeModel()
	svc := NewService(model, testParams(), testLogger())
	defer svc.Close()

	_, err := svc.Transcribe(context.Background(), Request{SampleRate: 16000, Channels: 1, BitDepth: 16})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if model.calls.Load() != 0 {
		t.Fatalf("engine must not be called for empty audio")
	}
}

func TestTranscribeSegmentsAndConfidence(t *testing.T) {
	model := newFakeModel(
		stt.Segment{Start: 0, End: 1500 * time.Millisecond, Text: " Hello", Tokens: []stt.Token{{Text: " Hello", LogProb: 0}}},
		stt.Segment{Start: 1500 * time.Millisecond, End: 2 * time.Second, Text: " world."},
	)
	var mu sync.Mutex
	var stages []Stage
	svc := NewService(model, testParams(), testLogger(), WithStageObserver(func(s Stage) {
		mu.Lock()
		stages = append(stages, s)
		mu.Unlock()
	}))
	defer svc.Close()

	out, err := svc.Transcribe(context.Background(), Request{Audio: silence(2, 16000, 2), SampleRate: 16000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if out.Combined != " Hello world." {
		t.Fatalf("unexpected combined text %q", out.Combined)
	}
	if len(out.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(out.Segments))
	}
	first, second := out.Segments[0], out.Segments[1]
	if first.Start != 0 || first.End != 1500 || first.Confidence != 1 {
		t.Fatalf("unexpected first segment %+v", first)
	}
	if second.Start != 1500 || second.End != 2000 || second.Confidence != 0 {
		t.Fatalf("unexpected second segment %+v", second)
	}
	if got := model.lastLen.Load(); got != 32000 {
		t.Fatalf("expected mono 32000 samples, got %d", got)
	}
	if p, _ := model.params.Load().(stt.Params); p.BestOf != 1 || p.Language != "en" {
		t.Fatalf("unexpected params %+v", p)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Stage{StageIdle, StageResampling, StageMixing, StageEngineInvocation, StageScoring, StageDone}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("expected stages %v, got %v", want, stages)
		}
	}
}

func TestTranscribeEngineFailure(t *testing.T) {
	model := newFakeModel()
	model.fullErr = errors.New("decoder crashed")
	svc := NewService(model, testParams(), testLogger())
	defer svc.Close()

	out, err := svc.Transcribe(context.Background(), Request{Audio: silence(1, 16000, 1), SampleRate: 16000, Channels: 1, BitDepth: 16})
	var eerr *EngineError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if Classify(err) != KindServer {
		t.Fatalf("expected server classification")
	}
	if out.Segments != nil {
		t.Fatalf("expected no segments on failure")
	}
}

func TestTranscribeSegmentReadFailureReturnsNoPartialOutput(t *testing.T) {
	model := newFakeModel(
		stt.Segment{Text: "one"},
		stt.Segment{Text: "two"},
	)
	model.segErrAt = 1
	svc := NewService(model, testParams(), testLogger())
	defer svc.Close()

	out, err := svc.Transcribe(context.Background(), Request{Audio: silence(1, 16000, 1), SampleRate: 16000, Channels: 1, BitDepth: 16})
	var eerr *EngineError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if out.Combined != "" || out.Segments != nil {
		t.Fatalf("expected empty output, got %+v", out)
	}
}

func TestEngineCallsAreSerialized(t *testing.T) {
	model := newFakeModel(stt.Segment{Text: "x"})
	model.delay = 20 * time.Millisecond
	svc := NewService(model, testParams(), testLogger())
	defer svc.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Transcribe(context.Background(), Request{Audio: silence(1, 16000, 1), SampleRate: 16000, Channels: 1, BitDepth: 16})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if model.calls.Load() != 6 {
		t.Fatalf("expected 6 engine calls, got %d", model.calls.Load())
	}
	if max := model.maxActive.Load(); max != 1 {
		t.Fatalf("expected at most one concurrent engine call, got %d", max)
	}
}

func TestSubmitHonoursContextWhileEngineBusy(t *testing.T) {
	model := newFakeModel()
	model.block = make(chan struct{})
	svc := NewService(model, testParams(), testLogger())
	defer svc.Close()

	req := Request{Audio: silence(1, 16000, 1), SampleRate: 16000, Channels: 1, BitDepth: 16}
	first := make(chan error, 1)
	go func() {
		_, err := svc.Transcribe(context.Background(), req)
		first <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for model.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("engine was never invoked")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Transcribe(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while engine busy, got %v", err)
	}
	if depth := svc.QueueDepth(); depth != 1 {
		t.Fatalf("expected queue depth 1, got %d", depth)
	}

	close(model.block)
	if err := <-first; err != nil {
		t.Fatalf("first job failed: %v", err)
	}
}

func TestTranscribeAfterClose(t *testing.T) {
	svc := NewService(newFakeModel(), testParams(), testLogger())
	svc.Close()

	_, err := svc.Transcribe(context.Background(), Request{Audio: silence(1, 16000, 1), SampleRate: 16000, Channels: 1, BitDepth: 16})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{&audio.DecodeError{Reason: audio.OddByteCount, Depth: 16, Bytes: 3}, KindClient},
		{&audio.ResamplingError{}, KindClient},
		{&ValidationError{Reason: "no audio data provided"}, KindClient},
		{&EngineError{Op: "run inference", Err: errors.New("boom")}, KindServer},
		{errors.New("unexpected"), KindServer},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestTranscribeRejectsSampleRateOutOfRange(t *testing.T) {
	model := newFakeModel()
	var stages []Stage
	svc := NewService(model, testParams(), testLogger(), WithStageObserver(func(s Stage) { stages = append(stages, s) }))
	defer svc.Close()

	for _, rate := range []int{1, audio.MinSampleRate - 1, audio.MaxSampleRate + 1} {
		stages = nil
		_, err := svc.Transcribe(context.Background(), Request{Audio: silence(2, 8000, 1), SampleRate: rate, Channels: 1, BitDepth: 16})
		var verr *ValidationError
		if !errors.As(err, &verr) || Classify(err) != KindClient {
			t.Fatalf("rate %d: expected client ValidationError, got %v", rate, err)
		}
		for _, st := range stages {
			if st == StageResampling {
				t.Fatalf("rate %d: resampling must not start", rate)
			}
		}
	}
	if model.calls.Load() != 0 {
		t.Fatalf("engine must not be called")
	}
}

func TestTranscribeRejectsProjectedLengthOverLimit(t *testing.T) {
	model := newFakeModel()
	svc := NewService(model, testParams(), testLogger(), WithMaxSamples(3*audio.TargetSampleRate))
	defer svc.Close()

	// 2 s at 8 kHz stereo becomes 64000 interleaved samples at 16 kHz.
	_, err := svc.Transcribe(context.Background(), Request{Audio: silence(2, 8000, 2), SampleRate: 8000, Channels: 2, BitDepth: 16})
	if err == nil || !strings.Contains(err.Error(), "too long") || Classify(err) != KindClient {
		t.Fatalf("expected too long client error, got %v", err)
	}

	if _, err := svc.Transcribe(context.Background(), Request{Audio: silence(2, 8000, 1), SampleRate: 8000, Channels: 1, BitDepth: 16}); err != nil {
		t.Fatalf("expected mono request within the limit to pass, got %v", err)
	}
}

func TestReadyFalseAfterClose(t *testing.T) {
	svc := NewService(newFakeModel(), testParams(), testLogger())
	if !svc.Ready() {
		t.Fatal("expected new service to be ready")
	}
	svc.Close()
	if svc.Ready() {
		t.Fatal("expected closed service to report not ready")
	}
}
