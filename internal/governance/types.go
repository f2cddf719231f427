package governance

import "time"

// Side is the direction of a proposed order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is how the order should be priced.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

// TradeIntent is a proposed, not-yet-executed order. It is immutable once
// created: a Decision may carry modifications but never rewrites the intent.
type TradeIntent struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Quantity       float64   `json:"quantity"`
	OrderType      OrderType `json:"order_type"`
	LimitPrice     float64   `json:"limit_price,omitempty"`
	StopPrice      float64   `json:"stop_price,omitempty"`
	EstimatedValue float64   `json:"estimated_value"`
	Originator     string    `json:"originator"` // "user" or a bot id
	Reasoning      string    `json:"reasoning,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Price returns the per-unit price implied by the estimated value.
func (ti TradeIntent) Price() float64 {
	if ti.Quantity <= 0 {
		return 0
	}
	return ti.EstimatedValue / ti.Quantity
}

// RuleType groups rules by the concern they police.
type RuleType string

const (
	RuleRisk     RuleType = "risk"
	RulePosition RuleType = "position"
	RuleCapital  RuleType = "capital"
	RuleTime     RuleType = "time"
	RuleSymbol   RuleType = "symbol"
)

// Action is what a triggered rule does to the decision.
type Action string

const (
	ActionReject          Action = "reject"
	ActionModify          Action = "modify"
	ActionFlag            Action = "flag"
	ActionRequireApproval Action = "require_approval"
)

// Conditions is the numeric/symbolic condition bag a rule evaluates against.
// Rules are data: tightening a threshold or disabling a rule never touches
// the evaluation algorithm.
type Conditions struct {
	MaxPositionSizePct  float64  `json:"max_position_size_pct,omitempty"`
	MaxDailyLossUSD     float64  `json:"max_daily_loss_usd,omitempty"`
	MaxDailyTrades      int      `json:"max_daily_trades,omitempty"`
	MinCashReservePct   float64  `json:"min_cash_reserve_pct,omitempty"`
	MaxConcentrationPct float64  `json:"max_concentration_pct,omitempty"`
	ThresholdUSD        float64  `json:"threshold_usd,omitempty"`
	RiskPerTradePct     float64  `json:"risk_per_trade_pct,omitempty"`
	Symbols             []string `json:"symbols,omitempty"`
}

// Rule is one governance policy. Kind selects the evaluator; everything else
// is data.
type Rule struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	Priority    int        `json:"priority"` // lower evaluates first
	Type        RuleType   `json:"type"`
	Conditions  Conditions `json:"conditions"`
	Actions     []Action   `json:"actions"`
}

// HasAction reports whether the rule carries the given action.
func (r Rule) HasAction(a Action) bool {
	for _, act := range r.Actions {
		if act == a {
			return true
		}
	}
	return false
}

// Verdict is the final outcome of evaluating one intent.
type Verdict string

const (
	VerdictApproved         Verdict = "approved"
	VerdictRejected         Verdict = "rejected"
	VerdictModified         Verdict = "modified"
	VerdictRequiresApproval Verdict = "requires_approval"
)

// Authority names who produced the verdict.
type Authority string

const (
	AuthorityMonarch  Authority = "monarch"
	AuthorityOverseer Authority = "overseer"
	AuthorityUser     Authority = "user"
)

// Decision is the verdict for exactly one TradeIntent. Decisions are never
// revised; re-evaluating means a new intent and a new decision.
type Decision struct {
	ID            string         `json:"id"`
	IntentID      string         `json:"intent_id"`
	Verdict       Verdict        `json:"verdict"`
	Authority     Authority      `json:"authority"`
	Reason        string         `json:"reason"`
	AppliedRules  []string       `json:"applied_rules"`
	Modifications map[string]any `json:"modifications,omitempty"`
	DecidedAt     time.Time      `json:"decided_at"`
}

// ModifiedQuantity returns the quantity override, if the decision carries one.
func (d Decision) ModifiedQuantity() (float64, bool) {
	v, ok := d.Modifications["quantity"]
	if !ok {
		return 0, false
	}
	q, ok := v.(float64)
	return q, ok
}

// Actionable reports whether the decision allows execution.
func (d Decision) Actionable() bool {
	return d.Verdict == VerdictApproved || d.Verdict == VerdictModified
}

// RiskLimits is the numeric policy surface. It is mutated only through
// Engine.UpdateLimits, which records the change in the audit log.
type RiskLimits struct {
	MaxPositionSizePct   float64  `json:"max_position_size_pct"`
	MaxDailyTrades       int      `json:"max_daily_trades"`
	MaxDailyLossUSD      float64  `json:"max_daily_loss_usd"`
	MaxPortfolioLossPct  float64  `json:"max_portfolio_loss_pct"`
	MinCashReservePct    float64  `json:"min_cash_reserve_pct"`
	MaxConcentrationPct  float64  `json:"max_concentration_pct"`
	LargeTradeUSD        float64  `json:"large_trade_usd"`
	DefaultStopLossPct   float64  `json:"default_stop_loss_pct"`
	DefaultTakeProfitPct float64  `json:"default_take_profit_pct"`
	BlacklistedSymbols   []string `json:"blacklisted_symbols"`
}
