package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dreamware/shardmesh/internal/errors"
)

// messageWriter is the part of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON to a Kafka topic, keyed by the event
// topic so the events of one server keep their order within a partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink writes to topic on the comma separated brokers.
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New(errors.ErrInternal, "no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New(errors.ErrInternal, "no kafka topic configured")
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Topic),
		Value: value,
		Time:  e.Time,
	})
	return errors.Wrapf(err, "writing event %s to kafka", e.Topic)
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
