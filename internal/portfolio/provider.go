package portfolio

import "context"

// Position is one holding as seen by the governance core.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Summary is a point-in-time snapshot of the portfolio.
type Summary struct {
	Equity       float64    `json:"equity"`
	Cash         float64    `json:"cash"`
	Positions    []Position `json:"positions"`
	DayChangePct float64    `json:"day_change_pct"` // signed, -21 means down 21%
	DayPnLUSD    float64    `json:"day_pnl_usd"`
	TradesToday  int        `json:"trades_today"`
}

// RiskMetrics are portfolio-level risk figures, independent of any one trade.
type RiskMetrics struct {
	Volatility        float64 `json:"volatility"`
	ConcentrationRisk float64 `json:"concentration_risk"` // largest position as % of equity
	CurrentDrawdown   float64 `json:"current_drawdown"`
	IntradayLossPct   float64 `json:"intraday_loss_pct"` // positive number = loss
}

// Provider supplies portfolio state to the rule engine and overseer. It is an
// external collaborator: the core consumes it, never owns it.
type Provider interface {
	Summary(ctx context.Context) (Summary, error)
	RiskMetrics(ctx context.Context) (RiskMetrics, error)
}

// PositionValue returns the market value held in symbol, 0 if none.
func (s Summary) PositionValue(symbol string) float64 {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p.MarketValue
		}
	}
	return 0
}
