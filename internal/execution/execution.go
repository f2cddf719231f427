package execution

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateOrder = errors.New("duplicate order inside dedupe window")
	ErrZeroQuantity   = errors.New("order quantity must be positive")
)

// Order is a governance-approved instruction ready for the market.
type Order struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"` // buy | sell
	Quantity  float64   `json:"quantity"`
	OrderType string    `json:"order_type"`
	Price     float64   `json:"price"` // reference or limit price
	CreatedAt time.Time `json:"created_at"`
}

// Fill is the execution report for one order.
type Fill struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	FillPrice   float64   `json:"fill_price"`
	Filled      bool      `json:"filled"`
	Success     bool      `json:"success"`
	LatencyMs   int       `json:"latency_ms"`
	SlippageBps int       `json:"slippage_bps"`
	Timestamp   time.Time `json:"timestamp"`
}

// Executor routes orders to a market. Implementations are external
// collaborators; the core only depends on this interface.
type Executor interface {
	Execute(ctx context.Context, order Order) (Fill, error)
	// ClosePositions unwinds a bot's open positions, used when a live bot
	// stops or is halted.
	ClosePositions(ctx context.Context, botID string, symbols []string) error
}
