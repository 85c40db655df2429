package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

// Producer publishes tick events.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	if topic == "" {
		topic = TickTopic
	}
	return &Producer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}}
}

func (p *Producer) PublishTick(ctx context.Context, ev model.TickEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.ID), Value: b}); err != nil {
		return fmt.Errorf("publish tick: %w", err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
