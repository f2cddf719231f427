package portfolio

import (
	"context"
	"sync"
	"time"
)

// SimProvider is a thread-safe in-memory portfolio used by the demo binary
// and tests. Fills applied through ApplyFill move cash against positions the
// way a real account would; day-level figures reset on date change.
type SimProvider struct {
	mu          sync.RWMutex
	cash        float64
	capitalBase float64
	positions   map[string]Position
	dayPnL      float64
	tradesToday int
	day         string

	// overrides let tests and the demo drive risk scenarios directly
	dayChangeOverride *float64
	metricsOverride   *RiskMetrics
}

// NewSimProvider starts an account holding only cash.
func NewSimProvider(cash float64) *SimProvider {
	return &SimProvider{
		cash:        cash,
		capitalBase: cash,
		positions:   make(map[string]Position),
		day:         time.Now().UTC().Format("2006-01-02"),
	}
}

func (s *SimProvider) Summary(_ context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	equity := s.cash
	positions := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		equity += p.MarketValue
		positions = append(positions, p)
	}

	dayChange := 0.0
	if s.dayChangeOverride != nil {
		dayChange = *s.dayChangeOverride
	} else if s.capitalBase > 0 {
		dayChange = s.dayPnL / s.capitalBase * 100
	}

	return Summary{
		Equity:       equity,
		Cash:         s.cash,
		Positions:    positions,
		DayChangePct: dayChange,
		DayPnLUSD:    s.dayPnL,
		TradesToday:  s.tradesToday,
	}, nil
}

func (s *SimProvider) RiskMetrics(ctx context.Context) (RiskMetrics, error) {
	s.mu.RLock()
	if s.metricsOverride != nil {
		m := *s.metricsOverride
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	sum, err := s.Summary(ctx)
	if err != nil {
		return RiskMetrics{}, err
	}

	var largest float64
	for _, p := range sum.Positions {
		if p.MarketValue > largest {
			largest = p.MarketValue
		}
	}
	var concentration float64
	if sum.Equity > 0 {
		concentration = largest / sum.Equity * 100
	}
	var intradayLoss float64
	if sum.DayChangePct < 0 {
		intradayLoss = -sum.DayChangePct
	}

	return RiskMetrics{
		ConcentrationRisk: concentration,
		IntradayLossPct:   intradayLoss,
		CurrentDrawdown:   intradayLoss,
	}, nil
}

// ApplyFill books an executed trade: buys consume cash, sells release it and
// realize P&L against the average entry price.
func (s *SimProvider) ApplyFill(symbol string, quantity, price float64, buy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDay()

	pos := s.positions[symbol]
	pos.Symbol = symbol
	notional := quantity * price

	if buy {
		totalCost := pos.AvgEntryPrice*pos.Quantity + notional
		pos.Quantity += quantity
		if pos.Quantity > 0 {
			pos.AvgEntryPrice = totalCost / pos.Quantity
		}
		pos.MarketValue = pos.Quantity * price
		s.cash -= notional
	} else {
		realized := quantity * (price - pos.AvgEntryPrice)
		s.dayPnL += realized
		pos.Quantity -= quantity
		pos.MarketValue = pos.Quantity * price
		s.cash += notional
	}

	if pos.Quantity <= 0 {
		delete(s.positions, symbol)
	} else {
		s.positions[symbol] = pos
	}
	s.tradesToday++
}

// MarkPrice revalues a position at the given market price.
func (s *SimProvider) MarkPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok || pos.Quantity == 0 {
		return
	}
	prev := pos.MarketValue
	pos.MarketValue = pos.Quantity * price
	pos.UnrealizedPnL = pos.Quantity * (price - pos.AvgEntryPrice)
	s.dayPnL += pos.MarketValue - prev
	s.positions[symbol] = pos
}

// SetDayChangePct pins the reported day change, for risk scenarios.
func (s *SimProvider) SetDayChangePct(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dayChangeOverride = &pct
}

// SetRiskMetrics pins the reported risk metrics, for risk scenarios.
func (s *SimProvider) SetRiskMetrics(m RiskMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsOverride = &m
}

func (s *SimProvider) rollDay() {
	today := time.Now().UTC().Format("2006-01-02")
	if s.day != today {
		s.day = today
		s.dayPnL = 0
		s.tradesToday = 0
	}
}
