package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/tickmatch/engine/pkg/messaging"
)

// newConsumer is swapped out in tests.
var newConsumer = sarama.NewConsumer

// TradeConsumer reads the trade topic and hands decoded messages to a
// callback. It reads a single partition from the oldest offset, which
// matches the single-partition layout the sender produces into.
type TradeConsumer struct {
	consumer sarama.Consumer
	topic    string
	done     chan struct{}
}

// NewTradeConsumer connects a consumer to the given brokers.
func NewTradeConsumer(brokers []string, topic string) (*TradeConsumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true

	consumer, err := newConsumer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &TradeConsumer{
		consumer: consumer,
		topic:    topic,
		done:     make(chan struct{}),
	}, nil
}

// ConsumeTrades blocks, delivering each trade message to handler until
// Close is called. Messages that fail to decode or whose handler
// errors are skipped; consumption continues.
func (c *TradeConsumer) ConsumeTrades(handler func(*messaging.TradeMessage) error) error {
	partition, err := c.consumer.ConsumePartition(c.topic, 0, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partition.Close()

	for {
		select {
		case msg, ok := <-partition.Messages():
			if !ok {
				return nil
			}
			var trade messaging.TradeMessage
			if err := json.Unmarshal(msg.Value, &trade); err != nil {
				continue
			}
			if err := handler(&trade); err != nil {
				continue
			}
		case <-c.done:
			return nil
		}
	}
}

// Close stops consumption and releases the underlying consumer.
func (c *TradeConsumer) Close() error {
	close(c.done)
	return c.consumer.Close()
}
