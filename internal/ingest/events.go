package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// RideEvent is the lifecycle record published for every booking, status
// change, rating and payment. Downstream systems (driver matching,
// billing) consume these; this service never reads them back.
type RideEvent struct {
	Kind     string    `json:"kind"` // ride.booked, ride.cancelled, ride.rated, ride.paid
	RideID   string    `json:"ride_id"`
	RiderID  string    `json:"rider_id"`
	DriverID string    `json:"driver_id,omitempty"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload,omitempty"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishRideEvent writes one event keyed by rider so per-rider ordering
// is preserved within a partition.
func (k *KafkaProducer) PublishRideEvent(ev RideEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, _ := json.Marshal(ev)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RiderID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
