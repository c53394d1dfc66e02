package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/open-transcribe/internal/bus"
	"github.com/loqalabs/open-transcribe/internal/protocol"
	"github.com/loqalabs/open-transcribe/internal/transcribe"
	"github.com/nats-io/nats.go"
)

// ServeBus answers TranscribeRequest messages on subject in the transcribe
// queue group. Each message is handled on its own goroutine; engine calls
// still run one at a time.
func (g *Gateway) ServeBus(ctx context.Context, client *bus.Client, subject string) (*nats.Subscription, error) {
	sub, err := client.Conn().QueueSubscribe(subject, protocol.QueueGroupTranscribe, func(msg *nats.Msg) {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handleBusRequest(ctx, msg)
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	g.log.Info("serving transcription requests on bus", slog.String("subject", subject))
	return sub, nil
}

func (g *Gateway) handleBusRequest(ctx context.Context, msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		g.log.Warn("failed to decode transcribe request", slogError(err))
		g.respond(msg, protocol.TranscribeReply{Error: "invalid request payload", ClientError: true})
		return
	}

	res, err := g.Handle(ctx, "bus", withDefaults(transcribe.Request{
		Audio:      req.PCM,
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		BitDepth:   req.BitDepth,
	}))
	if err != nil {
		_, text := errorStatus(err)
		client := transcribe.Classify(err) == transcribe.KindClient
		if !client {
			g.log.Error("bus transcription failed", slog.String("request_id", req.RequestID), slogError(err))
		}
		g.respond(msg, protocol.TranscribeReply{Error: text, ClientError: client})
		return
	}
	g.respond(msg, protocol.TranscribeReply{
		ID:       res.ID,
		Text:     res.Output.Combined,
		Segments: toProtocolSegments(res.Output.Segments),
	})
}

func (g *Gateway) respond(msg *nats.Msg, reply protocol.TranscribeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		g.log.Warn("failed to marshal transcribe reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		g.log.Warn("failed to send transcribe reply", slogError(err))
	}
}
