package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/pssh/internal/lg"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/segmentio/kafka-go"
)

const kafkaWriteTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Kafka publishes one JSON record per host. Messages are keyed by host
// address so results for one host land on one partition.
type Kafka struct {
	writer messageWriter
	topic  string
	run    Run
}

func NewKafka(brokers []string, topic string, run Run) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			Async:                  false,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
		run:   run,
	}
}

func (k *Kafka) Present(ctx context.Context, ev models.CompletionEvent) error {
	rec := NewRecord(k.run, ev)
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", rec.Host, err)
	}

	ctx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(rec.Host),
		Value:   value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "run-id", Value: []byte(rec.RunID)}},
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			lg.FromContext(ctx).Error("kafka topic does not exist",
				lg.String("topic", k.topic),
				lg.String("action", "create the topic manually or enable auto-creation"))
		}
		return fmt.Errorf("kafka: publish %s: %w", rec.Host, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
