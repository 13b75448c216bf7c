package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/convograph/convograph/internal/event"
)

// KafkaSource consumes JSON interaction events from a Kafka topic and
// publishes them onto the bus.
type KafkaSource struct {
	brokers string
	groupID string
	topic   string
	bus     *EventBus
	reader  *kafka.Reader
}

// NewKafkaSource creates a source for the given brokers (comma-separated)
// and topic.
func NewKafkaSource(brokers, groupID, topic string, bus *EventBus) *KafkaSource {
	return &KafkaSource{brokers: brokers, groupID: groupID, topic: topic, bus: bus}
}

// Start launches the reader goroutine. It returns immediately; the reader
// stops when the context is cancelled.
func (s *KafkaSource) Start(ctx context.Context) {
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(s.brokers, ","),
		Topic:    s.topic,
		GroupID:  s.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	go func() {
		for {
			msg, err := s.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("kafka source: read error", "topic", s.topic, "error", err)
				continue
			}
			var e event.InteractionEvent
			if err := json.Unmarshal(msg.Value, &e); err != nil {
				slog.Warn("kafka source: undecodable event", "topic", s.topic, "offset", msg.Offset, "error", err)
				continue
			}
			s.bus.Publish(&e)
		}
	}()
}

// Close releases the underlying reader.
func (s *KafkaSource) Close() error {
	if s.reader == nil {
		return nil
	}
	return s.reader.Close()
}
