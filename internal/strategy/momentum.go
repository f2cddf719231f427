package strategy

import (
	"fmt"
	"math"
	"sort"
)

// Momentum follows the windowed trend: positive drift predicts up, negative
// predicts down, and confidence grows with the drift's size relative to
// volatility. Deterministic by construction; this is the stand-in for real
// model inference behind the Strategy interface.
type Momentum struct {
	Lookback int // steps of drift considered meaningful, tunes sensitivity
}

func NewMomentum(lookback int) *Momentum {
	if lookback <= 0 {
		lookback = 5
	}
	return &Momentum{Lookback: lookback}
}

func (m *Momentum) Name() string { return fmt.Sprintf("momentum(%d)", m.Lookback) }

func (m *Momentum) Analyze(f Features) (Prediction, error) {
	if f.Samples < 3 {
		return Prediction{}, fmt.Errorf("%w: %d samples", ErrInsufficientData, f.Samples)
	}

	// Signal-to-noise: drift per step against realized volatility.
	noise := f.Volatility
	if noise <= 0 {
		noise = 0.005
	}
	score := f.Momentum / (noise * math.Sqrt(float64(m.Lookback)))

	dir := DirectionFlat
	if score > 0.1 {
		dir = DirectionUp
	} else if score < -0.1 {
		dir = DirectionDown
	}

	confidence := math.Tanh(math.Abs(score))
	// Heavier-than-usual volume corroborates the move.
	if f.VolumeRatio > 1.5 {
		confidence = math.Min(1, confidence*1.1)
	}

	return Prediction{
		Direction:  dir,
		Confidence: confidence,
		FeatureImportance: map[string]float64{
			"momentum":     0.6,
			"volatility":   0.25,
			"volume_ratio": 0.15,
		},
	}, nil
}

// Retrain grid-searches the lookback against the training window and returns
// the best candidate. The caller compares out-of-sample accuracy before
// promoting it.
func (m *Momentum) Retrain(signals []Signal) Strategy {
	best := m.Lookback
	bestAcc := -1.0
	for _, lb := range []int{3, 5, 8, 13} {
		candidate := &Momentum{Lookback: lb}
		acc := Backtest(candidate, signals)
		if acc > bestAcc {
			bestAcc = acc
			best = lb
		}
	}
	return &Momentum{Lookback: best}
}

// MeanReversion bets against the windowed trend.
type MeanReversion struct {
	Lookback int
}

func NewMeanReversion(lookback int) *MeanReversion {
	if lookback <= 0 {
		lookback = 5
	}
	return &MeanReversion{Lookback: lookback}
}

func (m *MeanReversion) Name() string { return fmt.Sprintf("mean-reversion(%d)", m.Lookback) }

func (m *MeanReversion) Analyze(f Features) (Prediction, error) {
	inner := Momentum{Lookback: m.Lookback}
	p, err := inner.Analyze(f)
	if err != nil {
		return Prediction{}, err
	}
	switch p.Direction {
	case DirectionUp:
		p.Direction = DirectionDown
	case DirectionDown:
		p.Direction = DirectionUp
	}
	return p, nil
}

// Backtest walks the signal history per symbol, predicting each next step
// from the features of the prefix, and returns directional accuracy in [0..1].
func Backtest(s Strategy, signals []Signal) float64 {
	bySymbol := map[string][]Signal{}
	for _, sig := range signals {
		bySymbol[sig.Symbol] = append(bySymbol[sig.Symbol], sig)
	}

	var correct, total int
	for symbol, rows := range bySymbol {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
		for i := 4; i < len(rows); i++ {
			f, err := Extract(rows[:i], symbol, 0)
			if err != nil {
				continue
			}
			p, err := s.Analyze(f)
			if err != nil || p.Direction == DirectionFlat {
				continue
			}
			realized := rows[i].Price - rows[i-1].Price
			if (realized > 0 && p.Direction == DirectionUp) || (realized < 0 && p.Direction == DirectionDown) {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
