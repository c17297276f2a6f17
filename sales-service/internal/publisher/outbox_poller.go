package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/sales-service/internal/repository"
	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "sales-committed"

type OutboxStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// MessageWriter is the part of *kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxPoller publishes committed-sale events written by the repository
// and marks them processed once the broker has accepted them. Delivery is
// at least once.
type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	batchSize int
	repo      OutboxStore
	writer    MessageWriter
	log       *slog.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo OutboxStore, writer MessageWriter, log *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		batchSize: 100,
		repo:      repo,
		writer:    writer,
		log:       logger.OrDefault(log),
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.log.ErrorContext(ctx, "failed to publish event", "event_id", event.ID, "error", err)
			// keep ordering per batch: later events wait for the next tick
			break
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark event as processed", "event_id", event.ID, "error", err)
			continue
		}
		published++
	}
	if published > 0 {
		p.log.DebugContext(ctx, "outbox events published", "count", published)
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // sale id
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}
	return p.writer.WriteMessages(ctx, msg)
}
