package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

var ErrInsufficientData = errors.New("not enough signals for feature extraction")

// Signal is one observation from the market/signal feed collaborator.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Feed supplies recent signals for feature extraction. External collaborator.
type Feed interface {
	GetSignals(ctx context.Context, limit int) ([]Signal, error)
}

// Features is the windowed view a strategy analyzes for one symbol.
type Features struct {
	Symbol      string
	WindowDays  int
	LastPrice   float64
	Momentum    float64 // fractional move across the window
	Volatility  float64 // stddev of per-step returns
	VolumeRatio float64 // last volume vs window average
	Samples     int
}

// Direction of a prediction.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Prediction is a strategy's verdict for one symbol.
type Prediction struct {
	Direction         Direction
	Confidence        float64 // [0..1]
	FeatureImportance map[string]float64
}

// Strategy is the pluggable analysis module. The scoring internals here are
// placeholders for real model inference; the interface is the contract.
type Strategy interface {
	Name() string
	Analyze(f Features) (Prediction, error)
}

// Trainable strategies can produce a retrained candidate from a training
// window. The caller decides whether the candidate is promoted.
type Trainable interface {
	Strategy
	Retrain(signals []Signal) Strategy
}

// Extract computes Features for symbol from a signal batch. Signals for
// other symbols are ignored; at least three samples are required.
func Extract(signals []Signal, symbol string, windowDays int) (Features, error) {
	var rows []Signal
	for _, s := range signals {
		if s.Symbol == symbol {
			rows = append(rows, s)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })

	if windowDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
		trimmed := rows[:0]
		for _, r := range rows {
			if !r.Timestamp.Before(cutoff) {
				trimmed = append(trimmed, r)
			}
		}
		rows = trimmed
	}
	if len(rows) < 3 {
		return Features{}, fmt.Errorf("%w: %s has %d samples", ErrInsufficientData, symbol, len(rows))
	}

	first, last := rows[0], rows[len(rows)-1]
	momentum := 0.0
	if first.Price > 0 {
		momentum = (last.Price - first.Price) / first.Price
	}

	var returns []float64
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Price > 0 {
			returns = append(returns, (rows[i].Price-rows[i-1].Price)/rows[i-1].Price)
		}
	}
	volatility := stddev(returns)

	var volSum float64
	for _, r := range rows {
		volSum += r.Volume
	}
	volumeRatio := 1.0
	if avg := volSum / float64(len(rows)); avg > 0 {
		volumeRatio = last.Volume / avg
	}

	return Features{
		Symbol:      symbol,
		WindowDays:  windowDays,
		LastPrice:   last.Price,
		Momentum:    momentum,
		Volatility:  volatility,
		VolumeRatio: volumeRatio,
		Samples:     len(rows),
	}, nil
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// Registry maps strategy names to constructors so deployments can validate
// their assigned strategy up front.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Strategy
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Strategy)}
}

func (r *Registry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *Registry) New(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in modules.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("momentum", func() Strategy { return NewMomentum(5) })
	r.Register("mean-reversion", func() Strategy { return NewMeanReversion(5) })
	return r
}
