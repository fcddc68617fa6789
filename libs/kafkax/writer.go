package kafkax

import (
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter returns an async writer that routes by message key, so events for
// the same unit stay ordered on one partition. Delivery failures are logged
// from the completion callback.
func NewWriter(brokers []string, logger *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil || logger == nil {
				return
			}
			for _, m := range messages {
				logger.Warn("kafka delivery failed",
					"topic", m.Topic,
					"key", string(m.Key),
					"event_id", HeaderValue(m.Headers, HeaderEventID),
					"err", err,
				)
			}
		},
	}
}
