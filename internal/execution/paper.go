package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quantrail/trade-governor/internal/observ"
)

// PaperConfig tunes the simulator.
type PaperConfig struct {
	OutboxPath       string
	OrdersPerSecond  float64
	SlippageBps      int
	LatencyMsMin     int
	LatencyMsMax     int
	DedupeWindowSecs int
}

func (c PaperConfig) withDefaults() PaperConfig {
	if c.OrdersPerSecond <= 0 {
		c.OrdersPerSecond = 2
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = 3
	}
	if c.LatencyMsMin <= 0 {
		c.LatencyMsMin = 50
	}
	if c.LatencyMsMax < c.LatencyMsMin {
		c.LatencyMsMax = c.LatencyMsMin
	}
	if c.DedupeWindowSecs <= 0 {
		c.DedupeWindowSecs = 90
	}
	return c
}

// outboxEntry is one line in the append-only order/fill trail.
type outboxEntry struct {
	Type           string    `json:"type"` // order | fill | close
	Data           any       `json:"data"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Event          time.Time `json:"event"`
}

// Paper simulates executions: deterministic-side slippage in decimal math,
// simulated latency, rate-limited submission, and an append-only outbox with
// idempotency dedupe.
type Paper struct {
	cfg     PaperConfig
	limiter *rate.Limiter

	mu     sync.Mutex
	recent map[string]time.Time // idempotency key -> last seen

	// FillHook, when set, observes every successful fill (the demo wires it
	// to the sim portfolio).
	FillHook func(Fill)
}

// NewPaper creates the simulator and its outbox directory.
func NewPaper(cfg PaperConfig) (*Paper, error) {
	cfg = cfg.withDefaults()
	if cfg.OutboxPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutboxPath), 0o755); err != nil {
			return nil, fmt.Errorf("create outbox dir: %w", err)
		}
	}
	return &Paper{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.OrdersPerSecond), 1),
		recent:  make(map[string]time.Time),
	}, nil
}

// Execute fills the order at the reference price moved against the taker by
// the configured slippage.
func (p *Paper) Execute(ctx context.Context, order Order) (Fill, error) {
	if order.Quantity <= 0 {
		return Fill{}, ErrZeroQuantity
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return Fill{}, err
	}

	key := fmt.Sprintf("%s|%s|%s|%.4f", order.BotID, order.Symbol, order.Side, order.Quantity)
	if p.seenRecently(key) {
		observ.IncCounter("paper_orders_deduped_total", nil)
		return Fill{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, key)
	}

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if err := p.append(outboxEntry{Type: "order", Data: order, IdempotencyKey: key, Event: time.Now().UTC()}); err != nil {
		return Fill{}, err
	}

	// Slippage always moves against the order: buys fill high, sells low.
	price := decimal.NewFromFloat(order.Price)
	slip := decimal.NewFromInt(int64(p.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
	if order.Side == "buy" {
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	latency := p.cfg.LatencyMsMin
	if p.cfg.LatencyMsMax > p.cfg.LatencyMsMin {
		latency += rand.Intn(p.cfg.LatencyMsMax - p.cfg.LatencyMsMin)
	}

	fillPrice, _ := price.Round(4).Float64()
	fill := Fill{
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		FillPrice:   fillPrice,
		Filled:      true,
		Success:     true,
		LatencyMs:   latency,
		SlippageBps: p.cfg.SlippageBps,
		Timestamp:   time.Now().UTC(),
	}
	if err := p.append(outboxEntry{Type: "fill", Data: fill, Event: fill.Timestamp}); err != nil {
		return Fill{}, err
	}

	observ.IncCounter("paper_fills_total", map[string]string{"side": order.Side})
	if p.FillHook != nil {
		p.FillHook(fill)
	}
	return fill, nil
}

// ClosePositions records an unwind request for the bot's symbols.
func (p *Paper) ClosePositions(ctx context.Context, botID string, symbols []string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	entry := outboxEntry{
		Type:  "close",
		Data:  map[string]any{"bot_id": botID, "symbols": symbols},
		Event: time.Now().UTC(),
	}
	observ.IncCounter("paper_position_closes_total", nil)
	return p.append(entry)
}

func (p *Paper) seenRecently(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(p.cfg.DedupeWindowSecs) * time.Second)
	for k, at := range p.recent {
		if at.Before(cutoff) {
			delete(p.recent, k)
		}
	}
	if at, ok := p.recent[key]; ok && at.After(cutoff) {
		return true
	}
	p.recent[key] = time.Now()
	return false
}

func (p *Paper) append(entry outboxEntry) error {
	if p.cfg.OutboxPath == "" {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}
	f, err := os.OpenFile(p.cfg.OutboxPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n", b); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}
