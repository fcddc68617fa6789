package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/slotkeeper/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka writes each event to its per-kind topic keyed by unit.
type Kafka struct {
	writer messageWriter
}

func NewKafka(writer *kafka.Writer) *Kafka {
	return &Kafka{writer: writer}
}

func (k *Kafka) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic:   e.Topic(),
		Key:     []byte(e.Key()),
		Value:   payload,
		Headers: kafkax.EventHeaders(ctx, e.ID, e.Topic()),
		Time:    e.OccurredAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", e.Topic(), err)
	}
	return nil
}
