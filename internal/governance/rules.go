package governance

import (
	"fmt"
	"math"
	"strings"

	"github.com/quantrail/trade-governor/internal/portfolio"
)

// Built-in rule kinds. Custom kinds can be registered on the engine.
const (
	KindMaxPositionSize    = "max_position_size"
	KindDailyLossLimit     = "daily_loss_limit"
	KindDailyTradeLimit    = "daily_trade_limit"
	KindMinCashReserve     = "min_cash_reserve"
	KindSymbolBlacklist    = "symbol_blacklist"
	KindLargeTradeApproval = "large_trade_approval"
	KindConcentrationFlag  = "concentration_flag"
)

// ruleContext is everything an evaluator may look at.
type ruleContext struct {
	intent  TradeIntent
	summary portfolio.Summary
	metrics portfolio.RiskMetrics
	limits  RiskLimits
}

// outcome is one rule's contribution to the decision.
type outcome struct {
	triggered     bool
	reason        string
	modifications map[string]any
	// escalateReject forces a reject even when the rule's configured action
	// is modify (e.g. cash reserve leaves zero affordable quantity).
	escalateReject bool
}

type evaluator func(Rule, ruleContext) outcome

func builtinEvaluators() map[string]evaluator {
	return map[string]evaluator{
		KindMaxPositionSize:    evalMaxPositionSize,
		KindDailyLossLimit:     evalDailyLossLimit,
		KindDailyTradeLimit:    evalDailyTradeLimit,
		KindMinCashReserve:     evalMinCashReserve,
		KindSymbolBlacklist:    evalSymbolBlacklist,
		KindLargeTradeApproval: evalLargeTrade,
		KindConcentrationFlag:  evalConcentrationFlag,
	}
}

// evalMaxPositionSize rejects buys whose resulting position would exceed the
// configured share of total equity.
func evalMaxPositionSize(r Rule, ctx ruleContext) outcome {
	if ctx.intent.Side != SideBuy || ctx.summary.Equity <= 0 {
		return outcome{}
	}
	cap := r.Conditions.MaxPositionSizePct
	if cap <= 0 {
		cap = ctx.limits.MaxPositionSizePct
	}
	resulting := (ctx.summary.PositionValue(ctx.intent.Symbol) + ctx.intent.EstimatedValue) / ctx.summary.Equity * 100
	if resulting <= cap {
		return outcome{}
	}
	return outcome{
		triggered: true,
		reason:    fmt.Sprintf("position would be %.1f%% of equity, above the %.1f%% cap", resulting, cap),
	}
}

// evalDailyLossLimit rejects when today's loss plus a conservative estimate
// of this trade's risk would exceed the daily cap. The risk estimate is the
// default stop-loss distance applied to the trade's value.
func evalDailyLossLimit(r Rule, ctx ruleContext) outcome {
	cap := r.Conditions.MaxDailyLossUSD
	if cap <= 0 {
		cap = ctx.limits.MaxDailyLossUSD
	}
	if cap <= 0 {
		return outcome{}
	}
	lossToday := 0.0
	if ctx.summary.DayPnLUSD < 0 {
		lossToday = -ctx.summary.DayPnLUSD
	}
	riskPct := r.Conditions.RiskPerTradePct
	if riskPct <= 0 {
		riskPct = ctx.limits.DefaultStopLossPct
	}
	tradeRisk := ctx.intent.EstimatedValue * riskPct / 100
	if lossToday+tradeRisk <= cap {
		return outcome{}
	}
	return outcome{
		triggered: true,
		reason: fmt.Sprintf("daily loss $%.0f plus trade risk $%.0f would exceed the $%.0f limit",
			lossToday, tradeRisk, cap),
	}
}

// evalDailyTradeLimit rejects once the day's trade budget is spent.
func evalDailyTradeLimit(r Rule, ctx ruleContext) outcome {
	max := r.Conditions.MaxDailyTrades
	if max <= 0 {
		max = ctx.limits.MaxDailyTrades
	}
	if max <= 0 || ctx.summary.TradesToday < max {
		return outcome{}
	}
	return outcome{
		triggered: true,
		reason:    fmt.Sprintf("daily trade limit reached (%d of %d)", ctx.summary.TradesToday, max),
	}
}

// evalMinCashReserve shrinks buys that would dip into the cash reserve down
// to the largest affordable quantity; when nothing is affordable the modify
// escalates to a reject.
func evalMinCashReserve(r Rule, ctx ruleContext) outcome {
	if ctx.intent.Side != SideBuy {
		return outcome{}
	}
	reservePct := r.Conditions.MinCashReservePct
	if reservePct <= 0 {
		reservePct = ctx.limits.MinCashReservePct
	}
	reserve := ctx.summary.Equity * reservePct / 100
	available := ctx.summary.Cash - reserve
	if ctx.intent.EstimatedValue <= available {
		return outcome{}
	}
	price := ctx.intent.Price()
	if price <= 0 || available <= 0 {
		return outcome{
			triggered:      true,
			escalateReject: true,
			reason:         fmt.Sprintf("buy would breach the %.0f%% cash reserve and no affordable size remains", reservePct),
		}
	}
	affordable := math.Floor(available / price)
	if affordable <= 0 {
		return outcome{
			triggered:      true,
			escalateReject: true,
			reason:         fmt.Sprintf("buy would breach the %.0f%% cash reserve and no affordable size remains", reservePct),
		}
	}
	return outcome{
		triggered: true,
		reason: fmt.Sprintf("quantity reduced from %.0f to %.0f to keep the %.0f%% cash reserve",
			ctx.intent.Quantity, affordable, reservePct),
		modifications: map[string]any{
			"quantity":        affordable,
			"estimated_value": affordable * price,
		},
	}
}

// evalSymbolBlacklist rejects blacklisted symbols unconditionally.
func evalSymbolBlacklist(r Rule, ctx ruleContext) outcome {
	symbols := r.Conditions.Symbols
	if len(symbols) == 0 {
		symbols = ctx.limits.BlacklistedSymbols
	}
	for _, s := range symbols {
		if strings.EqualFold(s, ctx.intent.Symbol) {
			return outcome{
				triggered: true,
				reason:    fmt.Sprintf("symbol %s is blacklisted", ctx.intent.Symbol),
			}
		}
	}
	return outcome{}
}

// evalLargeTrade requires human approval (never rejects) above a dollar
// threshold.
func evalLargeTrade(r Rule, ctx ruleContext) outcome {
	threshold := r.Conditions.ThresholdUSD
	if threshold <= 0 {
		threshold = ctx.limits.LargeTradeUSD
	}
	if threshold <= 0 || ctx.intent.EstimatedValue <= threshold {
		return outcome{}
	}
	return outcome{
		triggered: true,
		reason:    fmt.Sprintf("trade value $%.0f exceeds the $%.0f approval threshold", ctx.intent.EstimatedValue, threshold),
	}
}

// evalConcentrationFlag raises an alert when the post-trade position would
// dominate the book. Flags never change the verdict.
func evalConcentrationFlag(r Rule, ctx ruleContext) outcome {
	if ctx.intent.Side != SideBuy || ctx.summary.Equity <= 0 {
		return outcome{}
	}
	limit := r.Conditions.MaxConcentrationPct
	if limit <= 0 {
		limit = ctx.limits.MaxConcentrationPct
	}
	if limit <= 0 {
		return outcome{}
	}
	resulting := (ctx.summary.PositionValue(ctx.intent.Symbol) + ctx.intent.EstimatedValue) / ctx.summary.Equity * 100
	if resulting <= limit {
		return outcome{}
	}
	return outcome{
		triggered: true,
		reason:    fmt.Sprintf("post-trade concentration %.1f%% exceeds the %.1f%% watch level", resulting, limit),
	}
}

// DefaultRules builds the built-in rule set against the given limits. The
// conditions are left zero so each rule tracks the live RiskLimits; explicit
// per-rule overrides can be set afterwards.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "rule-blacklist", Kind: KindSymbolBlacklist, Name: "Symbol blacklist",
			Description: "Rejects any trade in a blacklisted symbol.",
			Enabled:     true, Priority: 10, Type: RuleSymbol,
			Actions: []Action{ActionReject},
		},
		{
			ID: "rule-max-position", Kind: KindMaxPositionSize, Name: "Max position size",
			Description: "Rejects buys that would grow a position past its equity share cap.",
			Enabled:     true, Priority: 20, Type: RulePosition,
			Actions: []Action{ActionReject},
		},
		{
			ID: "rule-daily-loss", Kind: KindDailyLossLimit, Name: "Daily loss limit",
			Description: "Rejects trades once the day's loss budget is at risk.",
			Enabled:     true, Priority: 30, Type: RuleRisk,
			Actions: []Action{ActionReject},
		},
		{
			ID: "rule-daily-trades", Kind: KindDailyTradeLimit, Name: "Daily trade limit",
			Description: "Rejects trades past the daily trade budget.",
			Enabled:     true, Priority: 40, Type: RuleTime,
			Actions: []Action{ActionReject},
		},
		{
			ID: "rule-cash-reserve", Kind: KindMinCashReserve, Name: "Minimum cash reserve",
			Description: "Shrinks buys that would dip into the cash reserve.",
			Enabled:     true, Priority: 50, Type: RuleCapital,
			Actions: []Action{ActionModify},
		},
		{
			ID: "rule-large-trade", Kind: KindLargeTradeApproval, Name: "Large trade approval",
			Description: "Routes outsized trades to a human.",
			Enabled:     true, Priority: 60, Type: RuleCapital,
			Actions: []Action{ActionRequireApproval},
		},
		{
			ID: "rule-concentration", Kind: KindConcentrationFlag, Name: "Concentration watch",
			Description: "Flags trades that concentrate the book without blocking them.",
			Enabled:     true, Priority: 70, Type: RuleRisk,
			Actions: []Action{ActionFlag},
		},
	}
}
