// Package events fans completed transcriptions out to the NATS result subject
// and a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/open-transcribe/internal/bus"
	"github.com/loqalabs/open-transcribe/internal/config"
	"github.com/loqalabs/open-transcribe/internal/protocol"
	"github.com/segmentio/kafka-go"
)

// ErrQueueFull is returned by Publish when the Kafka queue has no room.
var ErrQueueFull = errors.New("kafka publish queue full")

const (
	kafkaQueueSize    = 256
	kafkaWriteTimeout = 10 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is safe for concurrent use. A Publisher with no sinks only logs.
// Kafka writes happen on a background goroutine fed by a bounded queue, so a
// slow or unreachable broker never delays Publish.
type Publisher struct {
	bus     *bus.Client
	subject string
	writer  messageWriter
	topic   string
	log     *slog.Logger

	mu     sync.RWMutex
	queue  chan kafka.Message
	closed bool
	wg     sync.WaitGroup
}

// NewPublisher uses busClient when it is non-nil and creates a Kafka writer
// when cfg.Kafka is enabled.
func NewPublisher(cfg config.Config, busClient *bus.Client, log *slog.Logger) *Publisher {
	p := &Publisher{
		bus:     busClient,
		subject: cfg.Bus.ResultSubject,
		topic:   cfg.Kafka.Topic,
		log:     log.With(slog.String("component", "events")),
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		dialer := &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		}
		p.startKafka(&kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: kafkaWriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		})
		p.log.Info("kafka publisher initialized", slog.Any("brokers", cfg.Kafka.Brokers), slog.String("topic", cfg.Kafka.Topic))
	}
	return p
}

func (p *Publisher) startKafka(w messageWriter) {
	p.writer = w
	p.queue = make(chan kafka.Message, kafkaQueueSize)
	p.wg.Add(1)
	go p.drainKafka()
}

// drainKafka is the only place Kafka write failures are logged.
func (p *Publisher) drainKafka() {
	defer p.wg.Done()
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
		start := time.Now()
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		recordPublish("kafka", err, time.Since(start).Seconds())
		if err != nil {
			p.log.Warn("failed to write event to kafka", slog.String("topic", p.topic), slog.String("id", string(msg.Key)), slog.String("error", err.Error()))
		}
	}
}

// Publish sends evt to NATS and queues it for Kafka. Errors are returned
// joined for the caller to log; a failing sink does not stop the others.
// Kafka delivery failures surface only in the background writer's log.
func (p *Publisher) Publish(_ context.Context, evt protocol.TranscriptionEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal transcription event: %w", err)
	}
	p.log.Debug("publishing transcription event", slog.String("id", evt.ID), slog.Int("bytes", len(payload)))

	var errs []error
	if p.bus != nil && p.subject != "" {
		start := time.Now()
		err := p.bus.Conn().Publish(p.subject, payload)
		recordPublish("nats", err, time.Since(start).Seconds())
		if err != nil {
			errs = append(errs, fmt.Errorf("nats %s: %w", p.subject, err))
		}
	}
	if err := p.enqueue(kafka.Message{
		Key:   []byte(evt.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("transcription")},
			{Key: "nodeId", Value: []byte(evt.NodeID)},
		},
	}); err != nil {
		recordPublish("kafka", err, 0)
		errs = append(errs, fmt.Errorf("kafka %s: %w", p.topic, err))
	}
	return errors.Join(errs...)
}

func (p *Publisher) enqueue(msg kafka.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.queue == nil || p.closed {
		return nil
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued Kafka messages and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.queue == nil || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.writer.Close()
}
