// Package poller listens for sales committed by any terminal and refreshes
// the local catalog snapshot so stock numbers converge between terminals.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_pos/pkg/logger"
	sales "github.com/fjod/go_pos/sales-service/domain"
)

const (
	eventTypeHeader = "event_type"
	eventCommitted  = "sale.committed"
	readBackoff     = time.Second
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Refresher interface {
	RefreshAsync()
}

type Poller struct {
	reader     MessageReader
	catalog    Refresher
	terminalID string
	backoff    time.Duration
	log        *slog.Logger
}

// NewKafkaReader joins a consumer group of its own so that every terminal
// receives every event.
func NewKafkaReader(topic, terminalID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "pos-terminal-" + terminalID,
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	})
}

func NewPoller(reader MessageReader, catalog Refresher, terminalID string, log *slog.Logger) *Poller {
	return &Poller{
		reader:     reader,
		catalog:    catalog,
		terminalID: terminalID,
		backoff:    readBackoff,
		log:        logger.OrDefault(log).With("component", "sale_poller"),
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.log.Info("sale poller started", "terminal_id", p.terminalID)
	for {
		if ctx.Err() != nil {
			p.log.Info("sale poller stopped")
			return
		}
		if _, err := p.handleNext(ctx); err != nil {
			select {
			case <-ctx.Done():
			case <-time.After(p.backoff):
			}
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing kafka reader", "error", err)
	}
}

// handleNext reads one message and reports whether it triggered a refresh.
// Only read failures are returned; bad payloads are logged and skipped.
func (p *Poller) handleNext(ctx context.Context) (bool, error) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		p.log.Error("error reading message", "error", err)
		return false, err
	}

	if et := header(m, eventTypeHeader); et != "" && et != eventCommitted {
		p.log.Debug("ignoring event", "event_type", et)
		return false, nil
	}

	var event sales.SaleCommittedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.log.Warn("error parsing message", "offset", m.Offset, "error", err)
		return false, nil
	}
	if p.own(event.TransactionID) {
		// our own checkout already refreshed after commit
		return false, nil
	}

	p.log.Debug("remote sale committed, refreshing catalog",
		"sale_number", event.SaleNumber, "store_id", event.StoreID, "items", len(event.Items))
	p.catalog.RefreshAsync()
	return true, nil
}

func (p *Poller) own(transactionID string) bool {
	return p.terminalID != "" && strings.HasPrefix(transactionID, p.terminalID+"-")
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
