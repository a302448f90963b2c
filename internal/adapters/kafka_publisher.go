package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher emits order status changes keyed by order id so consumers
// see the changes of one order in order.
type KafkaPublisher struct {
	log    *slog.Logger
	writer messageWriter
}

// kafkaBatchTimeout flushes single status events without waiting for a batch.
const kafkaBatchTimeout = 10 * time.Millisecond

func NewKafkaWriter(brokers []string, topic string, writeTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: writeTimeout,
	}
}

func NewKafkaPublisher(log *slog.Logger, writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{log: log, writer: writer}
}

func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, ev model.StatusChangedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(ev.OrderID),
		Value:   payload,
		Headers: injectTraceHeaders(ctx, []kafka.Header{{Key: "event_type", Value: []byte("OrderStatusChanged")}}),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	p.log.Debug("status event published", "order_id", ev.OrderID, "to", ev.To)
	return nil
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// NoopPublisher is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChanged(context.Context, model.StatusChangedEvent) error {
	return nil
}

var (
	_ ports.EventPublisher = (*KafkaPublisher)(nil)
	_ ports.EventPublisher = NoopPublisher{}
)
