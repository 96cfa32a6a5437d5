// Package questionbus publishes accepted questions to Kafka instead of
// writing them to the database directly.
package questionbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Namchee/tanyaaja/pkg/models"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaWriter satisfies store.QuestionWriter. Messages are keyed by owner id
// so one owner's questions stay ordered within a partition.
type KafkaWriter struct {
	writer kafkaWriter
	now    func() time.Time
}

// Event is the wire form of a question on the topic.
type Event struct {
	Type      string          `json:"type"`
	Question  models.Question `json:"question"`
	EmittedAt time.Time       `json:"emitted_at"`
}

const EventQuestionSubmitted = "question.submitted"

func NewKafkaWriter(cfg KafkaConfig) (*KafkaWriter, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaWriter{writer: w, now: time.Now}, nil
}

func (w *KafkaWriter) InsertQuestion(ctx context.Context, q models.Question) error {
	if w == nil || w.writer == nil {
		return fmt.Errorf("kafka writer not initialized")
	}
	now := time.Now
	if w.now != nil {
		now = w.now
	}
	payload, err := json.Marshal(Event{Type: EventQuestionSubmitted, Question: q, EmittedAt: now().UTC()})
	if err != nil {
		return fmt.Errorf("encode question event: %w", err)
	}
	if err := w.writer.WriteMessages(ctx, kafka.Message{Key: []byte(q.OwnerID), Value: payload}); err != nil {
		return fmt.Errorf("publish question: %w", err)
	}
	return nil
}

func (w *KafkaWriter) Close() error {
	if w == nil || w.writer == nil {
		return nil
	}
	return w.writer.Close()
}
