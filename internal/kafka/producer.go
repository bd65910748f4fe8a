package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Raffle event topics.
const (
	TopicReservations = "raffle.reservations"
	TopicRaffleFull   = "raffle.full"
	TopicDraws        = "raffle.draws"
)

// Topics lists every topic the service publishes to, for startup bootstrap.
func Topics() []string {
	return []string{TopicReservations, TopicRaffleFull, TopicDraws}
}

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

// Publish writes one event to the given topic, keyed for per-raffle ordering.
func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
