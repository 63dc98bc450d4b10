package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const DefaultKafkaTopic = "market_ticks"

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per price change, keyed by tag so that every
// asset's updates stay ordered within a partition.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaPublisher(w KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

type PriceUpdate struct {
	TickID string          `json:"tick_id"`
	Tag    string          `json:"tag"`
	Old    decimal.Decimal `json:"old"`
	New    decimal.Decimal `json:"new"`
	At     time.Time       `json:"at"`
}

func (p *KafkaPublisher) PublishTick(ctx context.Context, ev TickEvent) error {
	if len(ev.Changes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(ev.Changes))
	for _, c := range ev.Changes {
		payload, err := json.Marshal(PriceUpdate{TickID: ev.TickID.String(), Tag: c.Tag, Old: c.Old, New: c.New, At: ev.At})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(c.Tag), Value: payload, Time: ev.At})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
