package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/trade-governor/internal/audit"
	"github.com/quantrail/trade-governor/internal/bus"
	"github.com/quantrail/trade-governor/internal/portfolio"
)

type stubProvider struct {
	summary portfolio.Summary
	metrics portfolio.RiskMetrics
	err     error
}

func (s stubProvider) Summary(context.Context) (portfolio.Summary, error) {
	return s.summary, s.err
}

func (s stubProvider) RiskMetrics(context.Context) (portfolio.RiskMetrics, error) {
	return s.metrics, s.err
}

func testLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSizePct:   10,
		MaxDailyTrades:       20,
		MaxDailyLossUSD:      2000,
		MaxPortfolioLossPct:  20,
		MinCashReservePct:    10,
		MaxConcentrationPct:  25,
		LargeTradeUSD:        10000,
		DefaultStopLossPct:   5,
		DefaultTakeProfitPct: 10,
		BlacklistedSymbols:   []string{"MEME"},
	}
}

func flatBook(equity, cash float64) portfolio.Summary {
	return portfolio.Summary{Equity: equity, Cash: cash}
}

func TestEvaluateBlacklistShortCircuits(t *testing.T) {
	// The trade also breaches the position cap and the large-trade threshold,
	// but the blacklist runs first and nothing after it contributes.
	provider := stubProvider{summary: flatBook(100000, 100000)}
	engine := NewEngine(provider, nil, nil, testLimits(), nil)

	intent := NewTradeIntent("MEME", SideBuy, 500, OrderMarket, 50000, "user", "")
	d := engine.Evaluate(context.Background(), intent)

	assert.Equal(t, VerdictRejected, d.Verdict)
	assert.Equal(t, AuthorityMonarch, d.Authority)
	assert.Equal(t, "symbol MEME is blacklisted", d.Reason)
	assert.Equal(t, []string{"rule-blacklist"}, d.AppliedRules)
	assert.Empty(t, d.Modifications)
	assert.False(t, d.Actionable())
}

func TestEvaluateMaxPositionSize(t *testing.T) {
	// Existing 8% position plus a 5% buy lands at 13%, above the 10% cap.
	provider := stubProvider{summary: portfolio.Summary{
		Equity: 100000,
		Cash:   92000,
		Positions: []portfolio.Position{
			{Symbol: "AAPL", Quantity: 80, MarketValue: 8000},
		},
	}}
	engine := NewEngine(provider, nil, nil, testLimits(), nil)

	intent := NewTradeIntent("AAPL", SideBuy, 50, OrderMarket, 5000, "user", "")
	d := engine.Evaluate(context.Background(), intent)

	require.Equal(t, VerdictRejected, d.Verdict)
	assert.Contains(t, d.Reason, "13.0% of equity")
	assert.Equal(t, []string{"rule-max-position"}, d.AppliedRules)
}

func TestEvaluateFailClosed(t *testing.T) {
	provider := stubProvider{err: errors.New("broker timeout")}
	engine := NewEngine(provider, nil, nil, testLimits(), nil)

	d := engine.Evaluate(context.Background(), NewTradeIntent("AAPL", SideBuy, 10, OrderMarket, 1000, "user", ""))

	assert.Equal(t, VerdictRequiresApproval, d.Verdict)
	assert.Contains(t, d.Reason, "manual approval required")
	assert.False(t, d.Actionable())
}

func TestEvaluateEmergencyMode(t *testing.T) {
	provider := stubProvider{summary: flatBook(100000, 100000)}
	engine := NewEngine(provider, nil, nil, testLimits(), func() bool { return true })

	d := engine.Evaluate(context.Background(), NewTradeIntent("AAPL", SideBuy, 1, OrderMarket, 100, "user", ""))

	assert.Equal(t, VerdictRejected, d.Verdict)
	assert.Equal(t, AuthorityOverseer, d.Authority)
	assert.Contains(t, d.Reason, "emergency mode active")
}

func TestEvaluateCashReserveShrinksBuy(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSizePct = 60
	limits.LargeTradeUSD = 1000000
	limits.MaxConcentrationPct = 0

	// Cash 50k, reserve 10k, so 40k is spendable: a 50k buy at $100 shrinks
	// to 400 shares.
	provider := stubProvider{summary: flatBook(100000, 50000)}
	engine := NewEngine(provider, nil, nil, limits, nil)

	intent := NewTradeIntent("AAPL", SideBuy, 500, OrderMarket, 50000, "user", "")
	d := engine.Evaluate(context.Background(), intent)

	require.Equal(t, VerdictModified, d.Verdict)
	q, ok := d.ModifiedQuantity()
	require.True(t, ok)
	assert.Equal(t, 400.0, q)
	assert.Equal(t, 40000.0, d.Modifications["estimated_value"])
	assert.True(t, d.Actionable())
}

func TestEvaluateCashReserveEscalatesToReject(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSizePct = 100
	limits.LargeTradeUSD = 1000000
	limits.MaxConcentrationPct = 0

	// Cash is already below the reserve: nothing is affordable.
	provider := stubProvider{summary: flatBook(100000, 8000)}
	engine := NewEngine(provider, nil, nil, limits, nil)

	d := engine.Evaluate(context.Background(), NewTradeIntent("AAPL", SideBuy, 100, OrderMarket, 10000, "user", ""))

	assert.Equal(t, VerdictRejected, d.Verdict)
	assert.Contains(t, d.Reason, "no affordable size remains")
	assert.Empty(t, d.Modifications)
}

func TestEvaluateRejectDiscardsEarlierModifications(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSizePct = 100
	limits.LargeTradeUSD = 1000000
	limits.MaxConcentrationPct = 0

	provider := stubProvider{summary: flatBook(100000, 50000)}
	engine := NewEngine(provider, nil, nil, limits, nil)

	// A custom reject rule ordered after the cash-reserve modify.
	require.NoError(t, engine.AddRule(Rule{
		ID: "rule-late-block", Kind: KindSymbolBlacklist, Name: "Late block",
		Enabled: true, Priority: 90, Type: RuleSymbol,
		Conditions: Conditions{Symbols: []string{"AAPL"}},
		Actions:    []Action{ActionReject},
	}))

	d := engine.Evaluate(context.Background(), NewTradeIntent("AAPL", SideBuy, 500, OrderMarket, 50000, "user", ""))

	assert.Equal(t, VerdictRejected, d.Verdict)
	assert.Empty(t, d.Modifications, "a reject must discard modifications accumulated before it")
	assert.Contains(t, d.AppliedRules, "rule-cash-reserve")
	assert.Contains(t, d.AppliedRules, "rule-late-block")
}

func TestEvaluateLargeTradeRequiresApproval(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSizePct = 50

	provider := stubProvider{summary: flatBook(100000, 100000)}
	engine := NewEngine(provider, nil, nil, limits, nil)

	d := engine.Evaluate(context.Background(), NewTradeIntent("AAPL", SideBuy, 100, OrderMarket, 15000, "user", ""))

	assert.Equal(t, VerdictRequiresApproval, d.Verdict)
	assert.Equal(t, []string{"rule-large-trade"}, d.AppliedRules)
	assert.False(t, d.Actionable())
}

func TestEvaluateFlagNeverChangesVerdict(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSizePct = 50
	limits.LargeTradeUSD = 1000000

	provider := stubProvider{summary: portfolio.Summary{
		Equity: 100000,
		Cash:   70000,
		Positions: []portfolio.Position{
			{Symbol: "NVDA", Quantity: 60, MarketValue: 30000},
		},
	}}

	events := bus.New(16)
	defer events.Close()
	var mu sync.Mutex
	var flagged []bus.AlertEvent
	require.NoError(t, events.Subscribe(bus.TopicAlertGenerated, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		flagged = append(flagged, e.(bus.AlertEvent))
	}))

	engine := NewEngine(provider, nil, events, limits, nil)

	// 30% held plus 1% more crosses the 25% watch level but nothing blocks.
	d := engine.Evaluate(context.Background(), NewTradeIntent("NVDA", SideBuy, 2, OrderMarket, 1000, "user", ""))

	assert.Equal(t, VerdictApproved, d.Verdict)
	assert.Contains(t, d.AppliedRules, "rule-concentration")
	assert.True(t, d.Actionable())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flagged) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "monarch", flagged[0].Source)
	assert.Equal(t, "high", flagged[0].Severity)
	mu.Unlock()
}

func TestEvaluateDeterministic(t *testing.T) {
	provider := stubProvider{summary: portfolio.Summary{
		Equity: 100000,
		Cash:   92000,
		Positions: []portfolio.Position{
			{Symbol: "AAPL", MarketValue: 8000},
		},
	}}
	engine := NewEngine(provider, nil, nil, testLimits(), nil)

	intent := NewTradeIntent("AAPL", SideBuy, 50, OrderMarket, 5000, "user", "")
	first := engine.Evaluate(context.Background(), intent)
	second := engine.Evaluate(context.Background(), intent)

	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.Reason, second.Reason)
	assert.Equal(t, first.AppliedRules, second.AppliedRules)
}

func TestEvaluateWritesOneAuditEntryPerCall(t *testing.T) {
	recorder, err := audit.New(audit.Config{MaxEntries: 100})
	require.NoError(t, err)
	defer recorder.Close()

	provider := stubProvider{summary: flatBook(100000, 100000)}
	engine := NewEngine(provider, recorder, nil, testLimits(), nil)

	engine.Evaluate(context.Background(), NewTradeIntent("AAPL", SideBuy, 5, OrderMarket, 500, "user", ""))
	engine.Evaluate(context.Background(), NewTradeIntent("MEME", SideBuy, 5, OrderMarket, 500, "user", ""))

	entries := recorder.Entries(audit.Filter{EntityType: audit.EntityTrade})
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "governance_decision", e.Action)
	}
}

func TestUpdateLimitsIsAudited(t *testing.T) {
	recorder, err := audit.New(audit.Config{MaxEntries: 100})
	require.NoError(t, err)
	defer recorder.Close()

	provider := stubProvider{summary: flatBook(100000, 100000)}
	engine := NewEngine(provider, recorder, nil, testLimits(), nil)

	limits := engine.Limits()
	limits.MaxDailyTrades = 5
	require.NoError(t, engine.UpdateLimits(limits, "ops", "tighter day budget"))

	assert.Equal(t, 5, engine.Limits().MaxDailyTrades)
	entries := recorder.Entries(audit.Filter{EntityType: audit.EntityRisk})
	require.Len(t, entries, 1)
	assert.Equal(t, "risk_limits_updated", entries[0].Action)
}

func TestAddRuleRejectsUnknownKind(t *testing.T) {
	provider := stubProvider{summary: flatBook(100000, 100000)}
	engine := NewEngine(provider, nil, nil, testLimits(), nil)

	err := engine.AddRule(Rule{ID: "r", Kind: "astrology", Enabled: true})
	assert.Error(t, err)
}

func TestSetRuleEnabled(t *testing.T) {
	provider := stubProvider{summary: flatBook(100000, 100000)}
	engine := NewEngine(provider, nil, nil, testLimits(), nil)

	require.NoError(t, engine.SetRuleEnabled("rule-blacklist", false))
	d := engine.Evaluate(context.Background(), NewTradeIntent("MEME", SideBuy, 5, OrderMarket, 500, "user", ""))
	assert.Equal(t, VerdictApproved, d.Verdict)

	assert.Error(t, engine.SetRuleEnabled("no-such-rule", true))
}
