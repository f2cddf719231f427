package strategy

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimFeed is a seeded random-walk signal source for demos and tests. Each
// GetSignals call advances every symbol one step, so repeated polling yields
// an evolving series.
type SimFeed struct {
	mu      sync.Mutex
	rng     *rand.Rand
	symbols []string
	history []Signal
	last    map[string]float64
	clock   time.Time
}

// NewSimFeed seeds each symbol with warmup random-walk samples at one-minute
// spacing ending now.
func NewSimFeed(symbols []string, seed int64, warmup int) *SimFeed {
	if warmup <= 0 {
		warmup = 60
	}
	f := &SimFeed{
		rng:     rand.New(rand.NewSource(seed)),
		symbols: append([]string(nil), symbols...),
		last:    make(map[string]float64),
		clock:   time.Now().UTC().Add(-time.Duration(warmup) * time.Minute),
	}
	for _, s := range symbols {
		f.last[s] = 50 + f.rng.Float64()*450
	}
	for i := 0; i < warmup; i++ {
		f.step()
	}
	return f
}

func (f *SimFeed) GetSignals(_ context.Context, limit int) ([]Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step()
	if limit <= 0 || limit > len(f.history) {
		limit = len(f.history)
	}
	out := make([]Signal, limit)
	copy(out, f.history[len(f.history)-limit:])
	return out, nil
}

func (f *SimFeed) step() {
	for _, s := range f.symbols {
		price := f.last[s] * (1 + f.rng.NormFloat64()*0.004)
		if price < 1 {
			price = 1
		}
		f.last[s] = price
		f.history = append(f.history, Signal{
			Symbol:    s,
			Price:     price,
			Volume:    10000 + f.rng.Float64()*90000,
			Timestamp: f.clock,
		})
	}
	f.clock = f.clock.Add(time.Minute)
}
