package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tickmatch/engine/pkg/messaging"
)

// KafkaTradeSender implements TradeSender using Kafka
type KafkaTradeSender struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaTradeSender creates a new Kafka trade sender
func NewKafkaTradeSender(brokerAddr, topic string) (*KafkaTradeSender, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerAddr),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaTradeSender{
		writer: writer,
		topic:  topic,
	}, nil
}

// SendTrade publishes one executed trade to Kafka, keyed by the buy
// order ID so fills of the same order land in one partition.
func (k *KafkaTradeSender) SendTrade(trade *messaging.TradeMessage) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal trade message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(trade.BuyOrderID),
		Value: data,
		Time:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka writer
func (k *KafkaTradeSender) Close() error {
	return k.writer.Close()
}

// Ensure KafkaTradeSender implements TradeSender
var _ messaging.TradeSender = (*KafkaTradeSender)(nil)
