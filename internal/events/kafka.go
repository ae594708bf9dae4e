package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/CedrosPay/ledger/internal/circuitbreaker"
	"github.com/CedrosPay/ledger/internal/config"
)

// NewSyncProducer connects a sarama SyncProducer that waits for all in-sync replicas.
func NewSyncProducer(cfg config.EventsConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher writes events to one topic, keyed by reference id so every
// event of an order lands on the same partition in order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	breakers *circuitbreaker.Manager
	logger   zerolog.Logger
}

// NewKafkaPublisher wraps producer. breakers may be nil.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, breakers *circuitbreaker.Manager, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, breakers: breakers, logger: logger}
}

// Publish sends the event with the caller's trace context in the record headers.
func (p *KafkaPublisher) Publish(ctx context.Context, event PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	carrier := make(headerCarrier, 0, 4)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	carrier.Set("event_type", event.Type)

	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(event.ReferenceID),
		Value:   sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader(carrier),
	}

	type sent struct {
		partition int32
		offset    int64
	}
	res, err := circuitbreaker.Do(p.breakers, circuitbreaker.ServiceEvents, func() (sent, error) {
		partition, offset, err := p.producer.SendMessage(msg)
		return sent{partition, offset}, err
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", event.Type, err)
	}

	log := p.logger.Debug().
		Str("topic", p.topic).
		Str("event_type", event.Type).
		Str("reference_id", event.ReferenceID).
		Int32("partition", res.partition).
		Int64("offset", res.offset)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		log = log.Str("trace_id", sc.TraceID().String())
	}
	log.Msg("events.published")
	return nil
}

// Close closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// headerCarrier adapts Kafka record headers to otel's TextMapCarrier.
type headerCarrier []sarama.RecordHeader

func (c headerCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
