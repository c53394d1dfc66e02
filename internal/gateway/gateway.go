// Package gateway adapts transport requests (HTTP and NATS) to the
// transcription service and records every successful result.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/open-transcribe/internal/history"
	"github.com/loqalabs/open-transcribe/internal/protocol"
	"github.com/loqalabs/open-transcribe/internal/transcribe"
)

// Transcriber is the subset of transcribe.Service used by the gateway.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Output, error)
	Engine() string
	QueueDepth() int64
	Ready() bool
}

// EventPublisher receives every successful transcription.
type EventPublisher interface {
	Publish(ctx context.Context, evt protocol.TranscriptionEvent) error
}

type Result struct {
	ID     string
	Output transcribe.Output
}

type Gateway struct {
	tr      Transcriber
	store   *history.Store
	pub     EventPublisher
	nodeID  string
	maxBody int64
	log     *slog.Logger
	wg      sync.WaitGroup
}

type Options struct {
	Store        *history.Store
	Publisher    EventPublisher
	NodeID       string
	MaxBodyBytes int64
}

func New(tr Transcriber, opts Options, log *slog.Logger) *Gateway {
	return &Gateway{
		tr:      tr,
		store:   opts.Store,
		pub:     opts.Publisher,
		nodeID:  opts.NodeID,
		maxBody: opts.MaxBodyBytes,
		log:     log.With(slog.String("component", "gateway")),
	}
}

// Wait blocks until in-flight bus requests have been answered.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// Handle transcribes req and stores and publishes the result. Storage and
// publishing failures are logged; they do not fail the request.
func (g *Gateway) Handle(ctx context.Context, source string, req transcribe.Request) (Result, error) {
	start := time.Now()
	out, err := g.tr.Transcribe(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res := Result{ID: uuid.NewString(), Output: out}

	segments := toProtocolSegments(out.Segments)
	latency := time.Since(start).Milliseconds()
	audioSeconds := durationSeconds(req)
	ctx = context.WithoutCancel(ctx)

	if g.store != nil {
		rec := history.Record{
			ID:           res.ID,
			Source:       source,
			SampleRate:   req.SampleRate,
			Channels:     req.Channels,
			BitDepth:     req.BitDepth,
			AudioSeconds: audioSeconds,
			Text:         out.Combined,
			Segments:     segments,
			LatencyMS:    latency,
		}
		if err := g.store.Append(ctx, rec); err != nil {
			g.log.Warn("failed to store transcription", slog.String("id", res.ID), slogError(err))
		}
	}
	if g.pub != nil {
		evt := protocol.TranscriptionEvent{
			ID:           res.ID,
			NodeID:       g.nodeID,
			Source:       source,
			SampleRate:   req.SampleRate,
			Channels:     req.Channels,
			BitDepth:     req.BitDepth,
			AudioSeconds: audioSeconds,
			Text:         out.Combined,
			Segments:     segments,
			LatencyMS:    latency,
			Timestamp:    time.Now().UTC(),
		}
		if err := g.pub.Publish(ctx, evt); err != nil {
			g.log.Warn("failed to publish transcription", slog.String("id", res.ID), slogError(err))
		}
	}
	return res, nil
}

// withDefaults fills the numeric fields a transport left unset.
func withDefaults(req transcribe.Request) transcribe.Request {
	if req.SampleRate == 0 {
		req.SampleRate = protocol.DefaultSampleRate
	}
	if req.Channels == 0 {
		req.Channels = protocol.DefaultChannels
	}
	if req.BitDepth == 0 {
		req.BitDepth = protocol.DefaultBitDepth
	}
	return req
}

func durationSeconds(req transcribe.Request) float64 {
	bytesPerFrame := req.BitDepth / 8 * req.Channels
	if bytesPerFrame <= 0 || req.SampleRate <= 0 {
		return 0
	}
	return float64(len(req.Audio)/bytesPerFrame) / float64(req.SampleRate)
}

func toProtocolSegments(in []transcribe.Segment) []protocol.Segment {
	out := make([]protocol.Segment, len(in))
	for i, s := range in {
		out[i] = protocol.Segment{Start: s.Start, End: s.End, Text: s.Text, Confidence: s.Confidence}
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
