package messaging

import "github.com/tickmatch/engine/pkg/core"

// TradeSender defines an interface for publishing executed trades.
// This keeps the engine decoupled from the concrete transport, which
// lives in the kafka subpackage.
type TradeSender interface {
	SendTrade(trade *TradeMessage) error
}

// TradeMessage is the egress representation of one execution.
type TradeMessage struct {
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
}

// NewTradeMessage converts a core trade into its egress form.
func NewTradeMessage(t core.Trade) *TradeMessage {
	return &TradeMessage{
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       t.Price,
		Quantity:    t.Quantity,
	}
}
