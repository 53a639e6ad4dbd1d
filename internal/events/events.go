// Package events publishes order lifecycle events to Kafka for
// observability. It sits off the critical path: every Publish call is
// asynchronous and failures are logged, never propagated, since a
// kitchen-sim agent must keep running an order pipeline even if the
// observability broker is unreachable.
package events

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Kind enumerates the order lifecycle transitions published to the
// "kitchen-orders" topic.
type Kind string

const (
	Received  Kind = "received"
	Assigned  Kind = "assigned"
	Dropped   Kind = "dropped"
	Completed Kind = "completed"
	Handover  Kind = "handover"
)

// OrderEvent is the JSON payload published for every order transition.
type OrderEvent struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	RecipeID uint32    `json:"recipe_id"`
	Position uint32    `json:"position,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	At       time.Time `json:"at"`
}

// Sink publishes OrderEvents. It is a no-op sink when constructed with
// no brokers, so agents can run with observability disabled.
type Sink struct {
	writer *kafka.Writer
	topic  string
}

// NewSink builds a Sink writing to topic on brokers (comma-separated).
// An empty brokers string yields a Sink whose Publish calls are no-ops.
func NewSink(brokers, topic string) *Sink {
	if brokers == "" {
		return &Sink{}
	}
	brokerList := parseBrokers(brokers)
	return &Sink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokerList...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
			Async:    true,
		},
		topic: topic,
	}
}

func parseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(strings.ReplaceAll(brokers, " ", ""), ",") {
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Publish fires ev at the sink's topic. The write is asynchronous
// (kafka.Writer.Async) and errors are logged, not returned — an
// observability drop must never affect the order pipeline.
func (s *Sink) Publish(ev OrderEvent) {
	if s.writer == nil {
		return
	}
	ev.At = time.Now()
	ev.ID = uuid.NewString()
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("events: marshal %s event for recipe %d: %v", ev.Kind, ev.RecipeID, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.ID),
			Value: payload,
		}); err != nil && !strings.Contains(err.Error(), "context canceled") {
			log.Printf("events: publish %s event for recipe %d: %v", ev.Kind, ev.RecipeID, err)
		}
	}()
}

// Close releases the underlying Kafka writer, if any.
func (s *Sink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
