package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/open-transcribe/internal/audio"
	"github.com/loqalabs/open-transcribe/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/open-transcribe/transcribe"

// DefaultMaxSamples bounds the resampled length of one request to an hour of
// mono audio at the target rate.
const DefaultMaxSamples = audio.TargetSampleRate * 60 * 60

// Request is one raw PCM buffer with its declared format.
type Request struct {
	Audio      []byte
	SampleRate int
	Channels   int
	BitDepth   int
}

// Segment is a recognized span with times in milliseconds.
type Segment struct {
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
}

type Output struct {
	Combined string
	Segments []Segment
}

type job struct {
	samples []float32
	reply   chan jobResult
}

type jobResult struct {
	out Output
	err error
}

// Service owns the engine model. Transcriptions may be submitted from any
// number of goroutines; engine calls run one at a time on a worker goroutine
// in the order the worker accepts them.
type Service struct {
	model   stt.Model
	params  stt.Params
	log     *slog.Logger
	onStage func(Stage)

	maxSamples int64

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	waiting   atomic.Int64
	busy      atomic.Bool

	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

type Option func(*Service)

// WithMaxSamples bounds the interleaved sample count a request may have
// after resampling. Longer requests are rejected before any resampling work.
func WithMaxSamples(n int64) Option {
	return func(s *Service) { s.maxSamples = n }
}

// WithStageObserver registers fn to be called on every stage transition.
func WithStageObserver(fn func(Stage)) Option {
	return func(s *Service) { s.onStage = fn }
}

func NewService(model stt.Model, params stt.Params, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		model:      model,
		params:     params,
		maxSamples: DefaultMaxSamples,
		log:        log.With(slog.String("component", "transcribe")),
		jobs:       make(chan job),
		done:       make(chan struct{}),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initMetrics(); err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	}

	s.wg.Add(1)
	go s.worker()
	return s
}

// Close stops the worker after the job in progress, if any, completes.
// Jobs submitted afterwards fail with ErrEngineUnavailable.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Engine names the model backing the service.
func (s *Service) Engine() string { return s.model.Name() }

// Ready reports whether the service still accepts jobs.
func (s *Service) Ready() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// QueueDepth is the number of jobs waiting for or holding the engine.
func (s *Service) QueueDepth() int64 {
	n := s.waiting.Load()
	if s.busy.Load() {
		n++
	}
	return n
}

// Transcribe decodes req and runs it through the pipeline.
func (s *Service) Transcribe(ctx context.Context, req Request) (Output, error) {
	depth, err := audio.ParseBitDepth(req.BitDepth)
	if err != nil {
		s.record(ctx, time.Now(), err)
		return Output{}, err
	}
	samples, err := audio.Decode(req.Audio, depth)
	if err != nil {
		s.log.Warn("failed to decode audio", slog.Int("bytes", len(req.Audio)), slog.Int("bit_depth", req.BitDepth), slogError(err))
		s.record(ctx, time.Now(), err)
		return Output{}, err
	}
	return s.TranscribeSamples(ctx, samples, req.SampleRate, req.Channels, depth)
}

// TranscribeSamples runs already-decoded interleaved samples through
// resampling, downmixing, the engine and scoring.
func (s *Service) TranscribeSamples(ctx context.Context, samples []float32, sampleRate, channels int, depth audio.BitDepth) (Output, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "transcribe",
		trace.WithAttributes(
			attribute.Int("audio.samples", len(samples)),
			attribute.Int("audio.sample_rate", sampleRate),
			attribute.Int("audio.channels", channels),
			attribute.Int("audio.bit_depth", int(depth)),
		),
	)
	defer span.End()

	out, err := s.pipeline(ctx, samples, sampleRate, channels, depth)
	s.record(ctx, start, err)
	if err != nil {
		s.stage(StageFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Output{}, err
	}
	s.stage(StageDone)

	audioSeconds := float64(len(samples)) / float64(max(channels, 1)) / float64(sampleRate)
	elapsed := time.Since(start)
	s.log.Info("transcription complete",
		slog.Int("segments", len(out.Segments)),
		slog.Int("characters", len(out.Combined)),
		slog.Float64("audio_seconds", audioSeconds),
		slog.Duration("elapsed", elapsed),
		slog.Float64("rtf", audioSeconds/elapsed.Seconds()),
	)
	return out, nil
}

func (s *Service) pipeline(ctx context.Context, samples []float32, sampleRate, channels int, depth audio.BitDepth) (Output, error) {
	s.stage(StageIdle)
	if len(samples) == 0 {
		return Output{}, &ValidationError{Reason: "no audio data provided"}
	}
	if sampleRate < audio.MinSampleRate || sampleRate > audio.MaxSampleRate {
		return Output{}, badSampleRate(sampleRate)
	}
	if channels < 1 {
		return Output{}, &ValidationError{Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	if s.maxSamples > 0 {
		projected := audio.ResampledFrames(len(samples)/channels, sampleRate, audio.TargetSampleRate) * int64(channels)
		if projected > s.maxSamples {
			return Output{}, tooLong(projected, s.maxSamples)
		}
	}

	s.stage(StageResampling)
	resampled, err := audio.Resample(audio.NewBuffer(samples, sampleRate, channels, depth), audio.TargetSampleRate)
	if err != nil {
		return Output{}, err
	}
	frames := audio.Frames(resampled)
	s.log.Debug("audio resampled", slog.Int("from_hz", sampleRate), slog.Int("frames", frames))
	if frames < audio.TargetSampleRate {
		return Output{}, tooShort(frames)
	}

	s.stage(StageMixing)
	mono := audio.Downmix(resampled)

	return s.submit(ctx, mono.Data)
}

// submit waits on ctx only until the worker accepts the job. Accepted jobs
// always run to completion.
func (s *Service) submit(ctx context.Context, samples []float32) (Output, error) {
	j := job{samples: samples, reply: make(chan jobResult, 1)}
	s.waiting.Add(1)
	select {
	case s.jobs <- j:
		s.waiting.Add(-1)
	case <-ctx.Done():
		s.waiting.Add(-1)
		return Output{}, ctx.Err()
	case <-s.done:
		s.waiting.Add(-1)
		return Output{}, &EngineError{Op: "submit", Err: ErrEngineUnavailable}
	}
	res := <-j.reply
	return res.out, res.err
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case j := <-s.jobs:
			s.busy.Store(true)
			out, err := s.infer(j.samples)
			s.busy.Store(false)
			j.reply <- jobResult{out: out, err: err}
		}
	}
}

func (s *Service) infer(samples []float32) (Output, error) {
	s.stage(StageEngineInvocation)
	state, err := s.model.NewState()
	if err != nil {
		return Output{}, &EngineError{Op: "create state", Err: err}
	}
	defer func() {
		if err := state.Close(); err != nil {
			s.log.Warn("failed to release engine state", slogError(err))
		}
	}()

	began := time.Now()
	if err := state.Full(s.params, samples); err != nil {
		return Output{}, &EngineError{Op: "run inference", Err: err}
	}
	s.log.Debug("engine finished", slog.Duration("elapsed", time.Since(began)), slog.Int("samples", len(samples)))

	n := state.NumSegments()
	raw := make([]stt.Segment, 0, n)
	for i := 0; i < n; i++ {
		seg, err := state.Segment(i)
		if err != nil {
			return Output{}, &EngineError{Op: fmt.Sprintf("read segment %d", i), Err: err}
		}
		raw = append(raw, seg)
	}

	s.stage(StageScoring)
	out := Output{Segments: make([]Segment, 0, len(raw))}
	for _, seg := range raw {
		logprobs := make([]float32, len(seg.Tokens))
		for i, tok := range seg.Tokens {
			logprobs[i] = tok.LogProb
		}
		out.Combined += seg.Text
		out.Segments = append(out.Segments, Segment{
			Start:      seg.Start.Milliseconds(),
			End:        seg.End.Milliseconds(),
			Text:       seg.Text,
			Confidence: Score(logprobs),
		})
	}
	return out, nil
}

func (s *Service) stage(st Stage) {
	if s.onStage != nil {
		s.onStage(st)
	}
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	requests, err := meter.Int64Counter("transcribe.requests", metric.WithDescription("Transcription requests by outcome"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("transcribe.duration", metric.WithDescription("End-to-end transcription latency"), metric.WithUnit("s"))
	if err != nil {
		return err
	}
	queue, err := meter.Int64ObservableGauge("transcribe.queue_depth", metric.WithDescription("Jobs waiting for or holding the engine"))
	if err != nil {
		return err
	}
	s.requests = requests
	s.duration = duration
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(queue, s.QueueDepth())
		return nil
	}, queue)
	return err
}

func (s *Service) record(ctx context.Context, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "server_error"
		if Classify(err) == KindClient {
			outcome = "client_error"
		}
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.duration != nil {
		s.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
