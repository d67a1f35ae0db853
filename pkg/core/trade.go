package core

// Trade records a single execution between a resting order and an
// incoming one. The price is always the resting (maker) order's limit
// price. Trades are immutable once created.
type Trade struct {
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
}

// NewTrade creates a trade, validating that both sides are identified
// and that price and quantity are positive.
func NewTrade(buyOrderID, sellOrderID string, price, quantity int64) (Trade, error) {
	if buyOrderID == "" || sellOrderID == "" {
		return Trade{}, ErrEmptyOrderID
	}

	if price <= 0 {
		return Trade{}, ErrInvalidPrice
	}

	if quantity <= 0 {
		return Trade{}, ErrInvalidQuantity
	}

	return Trade{
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Price:       price,
		Quantity:    quantity,
	}, nil
}
