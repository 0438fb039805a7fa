// Package notify publishes resource notifications to external brokers.
package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/crudio/core"
	"github.com/relabs-tech/crudio/core/logger"
)

// KafkaNotifier publishes resource notifications to a Kafka topic.
//
// The message key is "<resource>.<operation>", so all notifications for
// one resource and operation end up in the same partition and arrive
// in order.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier which writes to the given topic
// on the given brokers. The topic must exist.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Notify implements core.Notifier
func (k *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().Errorf("cannot notify %s %s: %s", string(operation), resource, err.Error())
	}
}

// Close flushes pending messages and closes the writer
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
