package messaging

import "sync"

// MockTradeSender records sent trades for testing.
type MockTradeSender struct {
	mu     sync.Mutex
	trades []TradeMessage
}

// NewMockTradeSender creates a new MockTradeSender.
func NewMockTradeSender() *MockTradeSender {
	return &MockTradeSender{}
}

// SendTrade records the trade.
func (m *MockTradeSender) SendTrade(trade *TradeMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, *trade)
	return nil
}

// Trades returns a copy of everything sent so far.
func (m *MockTradeSender) Trades() []TradeMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeMessage, len(m.trades))
	copy(out, m.trades)
	return out
}

// Close does nothing.
func (m *MockTradeSender) Close() error {
	return nil
}

// Ensure MockTradeSender implements TradeSender
var _ TradeSender = (*MockTradeSender)(nil)
