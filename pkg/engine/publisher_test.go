package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickmatch/engine/pkg/core"
	"github.com/tickmatch/engine/pkg/messaging"
)

func TestPublisherDeliversTrades(t *testing.T) {
	ring := NewTradeRing(64)
	sender := messaging.NewMockTradeSender()
	p := NewPublisher(ring, sender, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	ring.Push(core.Trade{BuyOrderID: "b1", SellOrderID: "s1", Price: 100, Quantity: 2})

	require.Eventually(t, func() bool {
		return len(sender.Trades()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, messaging.TradeMessage{
		BuyOrderID: "b1", SellOrderID: "s1", Price: 100, Quantity: 2,
	}, sender.Trades()[0])

	cancel()
	<-done
}

func TestPublisherDrainsBacklogOnCanceledContext(t *testing.T) {
	const backlog = 100

	ring := NewTradeRing(128)
	sender := messaging.NewMockTradeSender()
	p := NewPublisher(ring, sender, zerolog.Nop())

	// The producer is already quiet; everything it pushed must still go
	// out even though the context is canceled before Run starts.
	for i := 0; i < backlog; i++ {
		ring.Push(core.Trade{
			BuyOrderID:  "b" + strconv.Itoa(i),
			SellOrderID: "s" + strconv.Itoa(i),
			Price:       100,
			Quantity:    1,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not exit")
	}

	trades := sender.Trades()
	require.Len(t, trades, backlog)
	for i, trade := range trades {
		assert.Equal(t, "b"+strconv.Itoa(i), trade.BuyOrderID)
	}
	assert.Equal(t, 0, ring.Len())
}
