package bus

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes every event to a topic, keyed by owner so one owner's
// events stay ordered within a partition.
type KafkaSink struct {
	w *kafka.Writer
}

// NewKafkaSink creates a sink for the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(ctx context.Context, evt Event) error {
	msg, err := kafkaMessage(evt)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error { return k.w.Close() }

func kafkaMessage(evt Event) (kafka.Message, error) {
	value, err := evt.Encode()
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(evt.Owner),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(evt.Name)}},
		Time:    evt.Timestamp,
	}, nil
}
