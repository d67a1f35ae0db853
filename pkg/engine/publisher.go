package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickmatch/engine/pkg/core"
	"github.com/tickmatch/engine/pkg/messaging"
)

// Publisher drains the trade ring and hands each trade to the
// configured sender. It is the single consumer of the ring.
type Publisher struct {
	trades *TradeRing
	sender messaging.TradeSender
	logger zerolog.Logger
	idle   time.Duration
}

// NewPublisher creates a publisher reading from trades and writing to
// sender.
func NewPublisher(trades *TradeRing, sender messaging.TradeSender, logger zerolog.Logger) *Publisher {
	return &Publisher{
		trades: trades,
		sender: sender,
		logger: logger.With().Str("component", "publisher").Logger(),
		idle:   defaultIdleSleep,
	}
}

// Run publishes until the context is canceled, then drains whatever is
// still buffered. For no trade to be lost on shutdown the matcher must
// be stopped before this context is canceled, so the producer side of
// the ring is quiet during the final drain. Send failures are logged
// and the trade is dropped from egress; the journal remains the system
// of record.
func (p *Publisher) Run(ctx context.Context) {
	for {
		if trade, ok := p.trades.TryPop(); ok {
			p.send(trade)
			continue
		}

		select {
		case <-ctx.Done():
			for {
				trade, ok := p.trades.TryPop()
				if !ok {
					p.logger.Info().Msg("publisher stopped")
					return
				}
				p.send(trade)
			}
		case <-time.After(p.idle):
		}
	}
}

func (p *Publisher) send(trade core.Trade) {
	msg := messaging.NewTradeMessage(trade)
	if err := p.sender.SendTrade(msg); err != nil {
		p.logger.Error().Err(err).
			Str("buy_order_id", trade.BuyOrderID).
			Str("sell_order_id", trade.SellOrderID).
			Msg("failed to publish trade")
	}
}
