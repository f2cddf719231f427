package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantrail/trade-governor/internal/audit"
	"github.com/quantrail/trade-governor/internal/bus"
	"github.com/quantrail/trade-governor/internal/execution"
	"github.com/quantrail/trade-governor/internal/governance"
	"github.com/quantrail/trade-governor/internal/observ"
	"github.com/quantrail/trade-governor/internal/portfolio"
	"github.com/quantrail/trade-governor/internal/store"
	"github.com/quantrail/trade-governor/internal/strategy"
)

var (
	ErrNotFound       = errors.New("bot not found")
	ErrAlreadyRunning = errors.New("bot already running")
	ErrNotRunning     = errors.New("bot not running")
	ErrHalted         = errors.New("bot is halted")
)

// Cadence is the tick interval per mode.
type Cadence struct {
	Live     time.Duration
	Paper    time.Duration
	Research time.Duration
}

func (c Cadence) withDefaults() Cadence {
	if c.Live <= 0 {
		c.Live = 30 * time.Second
	}
	if c.Paper <= 0 {
		c.Paper = 60 * time.Second
	}
	if c.Research <= 0 {
		c.Research = 300 * time.Second
	}
	return c
}

func (c Cadence) forMode(m Mode) time.Duration {
	switch m {
	case ModeLive:
		return c.Live
	case ModePaper:
		return c.Paper
	default:
		return c.Research
	}
}

// Deps are the collaborators a Manager needs. Engine, Executor, Feed,
// Provider and Store are required; Events and Recorder may be nil in tests.
type Deps struct {
	Engine     *governance.Engine
	Executor   execution.Executor
	Feed       strategy.Feed
	Strategies *strategy.Registry
	Provider   portfolio.Provider
	Recorder   *audit.Recorder
	Events     *bus.Bus
	Store      store.Store

	Cadence            Cadence
	Defaults           Config
	PromotionMarginPct float64
	SignalBatch        int
}

type botState struct {
	view  View
	strat strategy.Strategy

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager is the single owner of bot state. Every read or transition goes
// through its methods; per-bot tick goroutines report back through the same
// lock so a bot never runs two ticks at once.
type Manager struct {
	deps Deps

	mu         sync.RWMutex
	bots       map[string]*botState
	reduceOnly bool
	marketOpen bool
}

// NewManager restores persisted bots in a stopped state. A restart never
// resumes trading by itself; the operator starts bots explicitly.
func NewManager(deps Deps) (*Manager, error) {
	deps.Cadence = deps.Cadence.withDefaults()
	if deps.PromotionMarginPct <= 0 {
		deps.PromotionMarginPct = 5
	}
	if deps.SignalBatch <= 0 {
		deps.SignalBatch = 1000
	}
	if deps.Strategies == nil {
		deps.Strategies = strategy.DefaultRegistry()
	}
	m := &Manager{deps: deps, bots: make(map[string]*botState), marketOpen: true}

	// Trading pauses outside market hours when a session clock publishes
	// open/close events. Without a producer the market is treated as open.
	if deps.Events != nil {
		for _, topic := range []bus.Topic{bus.TopicMarketOpened, bus.TopicMarketClosed} {
			if err := deps.Events.Subscribe(topic, m.onMarketSession); err != nil {
				return nil, fmt.Errorf("subscribe %s: %w", topic, err)
			}
		}
	}

	if deps.Store != nil {
		recs, err := deps.Store.LoadBots(context.Background())
		if err != nil {
			return nil, fmt.Errorf("restore bots: %w", err)
		}
		for _, rec := range recs {
			v := fromRecord(rec)
			if v.Status != StatusError {
				v.Status = StatusIdle
			}
			m.bots[v.ID] = &botState{view: v}
		}
	}
	return m, nil
}

// Deploy registers a new bot. The request is validated, config gaps are
// filled from the defaults, and the bot is persisted before any event fires.
func (m *Manager) Deploy(ctx context.Context, req DeployRequest) (View, error) {
	if req.AllocatedCapital <= 0 {
		return View{}, fmt.Errorf("allocated capital must be positive, got %v", req.AllocatedCapital)
	}
	if !req.Mode.valid() {
		return View{}, fmt.Errorf("invalid mode %q", req.Mode)
	}
	if len(req.Symbols) == 0 {
		return View{}, errors.New("at least one symbol is required")
	}
	strat, err := m.deps.Strategies.New(req.Strategy)
	if err != nil {
		return View{}, err
	}

	cfg := req.Config
	if cfg.FeatureWindowDays <= 0 {
		cfg.FeatureWindowDays = pickInt(m.deps.Defaults.FeatureWindowDays, 10)
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = pickFloat(m.deps.Defaults.MinConfidence, 0.65)
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = pickInt(m.deps.Defaults.MaxPositions, 5)
	}
	if cfg.StopLossPct <= 0 {
		cfg.StopLossPct = pickFloat(m.deps.Defaults.StopLossPct, 5)
	}
	if cfg.TakeProfitPct <= 0 {
		cfg.TakeProfitPct = pickFloat(m.deps.Defaults.TakeProfitPct, 10)
	}

	now := time.Now().UTC()
	v := View{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Strategy:         req.Strategy,
		Mode:             req.Mode,
		Status:           StatusIdle,
		Symbols:          append([]string(nil), req.Symbols...),
		AllocatedCapital: req.AllocatedCapital,
		Config:           cfg,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	m.mu.Lock()
	m.bots[v.ID] = &botState{view: v, strat: strat}
	m.mu.Unlock()

	m.persist(v)
	m.audit(audit.EntityAnalyst, v.ID, "bot_deployed",
		fmt.Sprintf("bot %q deployed in %s mode with $%.2f", v.Name, v.Mode, v.AllocatedCapital),
		map[string]any{"strategy": v.Strategy, "symbols": v.Symbols, "mode": string(v.Mode)})
	m.emit(bus.TopicBotDeployed, v, "")
	observ.IncCounter("bots_deployed_total", map[string]string{"mode": string(v.Mode)})

	if req.AutoStart {
		if err := m.Start(ctx, v.ID); err != nil {
			return v, err
		}
		return m.Get(v.ID)
	}
	return v, nil
}

// Start launches the bot's tick loop.
func (m *Manager) Start(_ context.Context, id string) error {
	m.mu.Lock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if bs.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if bs.view.Mode == ModeHalted {
		m.mu.Unlock()
		return ErrHalted
	}
	if bs.view.Mode == ModeLive && bs.view.Status == StatusError {
		m.mu.Unlock()
		return fmt.Errorf("live bot %s is in error status; resolve before starting", id)
	}
	if bs.strat == nil {
		strat, err := m.deps.Strategies.New(bs.view.Strategy)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		bs.strat = strat
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs.running = true
	bs.cancel = cancel
	bs.done = make(chan struct{})
	bs.view.Status = StatusIdle
	bs.view.LastError = ""
	bs.view.UpdatedAt = time.Now().UTC()
	v := bs.view
	interval := m.deps.Cadence.forMode(v.Mode)
	m.mu.Unlock()

	go m.run(ctx, id, interval, bs.done)

	m.persist(v)
	m.audit(audit.EntityAnalyst, id, "bot_started",
		fmt.Sprintf("bot %q started (%s, every %s)", v.Name, v.Mode, interval), nil)
	m.emit(bus.TopicBotStarted, v, "")
	observ.IncCounter("bots_started_total", map[string]string{"mode": string(v.Mode)})
	return nil
}

// Stop cancels the tick loop, waits for any in-flight tick, and for live bots
// closes open positions before the bot settles back to idle.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !bs.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	bs.cancel()
	done := bs.done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	bs.running = false
	wasLive := bs.view.Mode == ModeLive
	symbols := append([]string(nil), bs.view.Symbols...)
	m.mu.Unlock()

	// Live books must be flat before the bot reads as idle again.
	if wasLive {
		if err := m.deps.Executor.ClosePositions(ctx, id, symbols); err != nil {
			observ.Error("bot_close_positions_failed", err, map[string]any{"bot_id": id})
			m.audit(audit.EntitySystem, id, "close_positions_failed", err.Error(), nil)
		}
	}

	m.mu.Lock()
	if bs.view.Status != StatusError {
		bs.view.Status = StatusIdle
	}
	bs.view.UpdatedAt = time.Now().UTC()
	v := bs.view
	m.mu.Unlock()

	m.persist(v)
	m.audit(audit.EntitySystem, id, "shutdown",
		fmt.Sprintf("bot %q stopped", v.Name), map[string]any{"mode": string(v.Mode)})
	m.emit(bus.TopicBotStopped, v, "")
	observ.IncCounter("bots_stopped_total", map[string]string{"mode": string(v.Mode)})
	return nil
}

// Halt forces a bot into halted mode. Running bots are stopped first, live
// positions are closed, and the transition is recorded and broadcast.
func (m *Manager) Halt(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	var done chan struct{}
	if bs.running {
		bs.cancel()
		done = bs.done
	}
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	m.mu.Lock()
	wasLive := bs.view.Mode == ModeLive
	symbols := append([]string(nil), bs.view.Symbols...)
	bs.running = false
	bs.view.Mode = ModeHalted
	bs.view.UpdatedAt = time.Now().UTC()
	v := bs.view
	m.mu.Unlock()

	if wasLive {
		if err := m.deps.Executor.ClosePositions(ctx, id, symbols); err != nil {
			observ.Error("bot_close_positions_failed", err, map[string]any{"bot_id": id})
		}
	}

	m.persist(v)
	m.audit(audit.EntityRisk, id, "bot_halted",
		fmt.Sprintf("bot %q halted: %s", v.Name, reason), map[string]any{"reason": reason})
	m.emit(bus.TopicBotHalted, v, reason)
	observ.IncCounter("bots_halted_total", nil)
	return nil
}

// HaltAll halts every non-halted bot and returns the ids it touched. This is
// the hard-pull path.
func (m *Manager) HaltAll(ctx context.Context, reason string) []string {
	m.mu.RLock()
	var ids []string
	for id, bs := range m.bots {
		if bs.view.Mode != ModeHalted {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := m.Halt(ctx, id, reason); err != nil && !errors.Is(err, ErrNotFound) {
			observ.Error("halt_all_bot_failed", err, map[string]any{"bot_id": id})
		}
	}
	return ids
}

// ReduceExposure puts the fleet into reduce-only: ticks still run but new
// buys are suppressed until ResumeExposure. This is the soft-pull path.
func (m *Manager) ReduceExposure(reason string) {
	m.mu.Lock()
	m.reduceOnly = true
	m.mu.Unlock()
	m.audit(audit.EntityRisk, "", "exposure_reduction",
		"fleet set to reduce-only: "+reason, map[string]any{"reason": reason})
	observ.SetGauge("bots_reduce_only", 1, nil)
}

// ResumeExposure lifts reduce-only.
func (m *Manager) ResumeExposure() {
	m.mu.Lock()
	m.reduceOnly = false
	m.mu.Unlock()
	observ.SetGauge("bots_reduce_only", 0, nil)
}

// SetMode changes a stopped bot's mode. Moving into live requires the bot to
// be out of error status.
func (m *Manager) SetMode(id string, mode Mode) error {
	if !mode.valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	m.mu.Lock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if bs.running {
		m.mu.Unlock()
		return fmt.Errorf("stop bot %s before changing mode", id)
	}
	if mode == ModeLive && bs.view.Status == StatusError {
		m.mu.Unlock()
		return fmt.Errorf("bot %s is in error status and cannot go live", id)
	}
	prev := bs.view.Mode
	bs.view.Mode = mode
	bs.view.UpdatedAt = time.Now().UTC()
	v := bs.view
	m.mu.Unlock()

	m.persist(v)
	m.audit(audit.EntityAnalyst, id, "mode_changed",
		fmt.Sprintf("bot %q mode %s -> %s", v.Name, prev, mode), nil)
	return nil
}

// Remove deletes a stopped bot from the registry and the store.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if bs.running {
		m.mu.Unlock()
		return fmt.Errorf("stop bot %s before removing it", id)
	}
	delete(m.bots, id)
	m.mu.Unlock()

	if m.deps.Store != nil {
		if err := m.deps.Store.DeleteBot(ctx, id); err != nil {
			return err
		}
	}
	m.audit(audit.EntityAnalyst, id, "bot_removed", "bot removed", nil)
	return nil
}

// Get returns a snapshot of one bot.
func (m *Manager) Get(id string) (View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bs, ok := m.bots[id]
	if !ok {
		return View{}, ErrNotFound
	}
	return cloneView(bs.view, bs.running), nil
}

// List returns snapshots of every bot, ordered by creation time.
func (m *Manager) List() []View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]View, 0, len(m.bots))
	for _, bs := range m.bots {
		out = append(out, cloneView(bs.view, bs.running))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneView(v View, running bool) View {
	v.Symbols = append([]string(nil), v.Symbols...)
	v.Running = running
	return v
}

func pickInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func pickFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func (m *Manager) persist(v View) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SaveBot(context.Background(), toRecord(v)); err != nil {
		observ.Error("bot_persist_failed", err, map[string]any{"bot_id": v.ID})
	}
}

func (m *Manager) audit(entity audit.EntityType, id, action, description string, payload map[string]any) {
	if m.deps.Recorder == nil {
		return
	}
	if _, err := m.deps.Recorder.Record(entity, id, action, description, payload); err != nil {
		observ.Error("bot_audit_failed", err, map[string]any{"action": action})
	}
}

func (m *Manager) emit(kind bus.Topic, v View, reason string) {
	if m.deps.Events == nil {
		return
	}
	err := m.deps.Events.Publish(bus.BotLifecycleEvent{
		Kind:      kind,
		BotID:     v.ID,
		BotName:   v.Name,
		Mode:      string(v.Mode),
		Status:    string(v.Status),
		Reason:    reason,
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		observ.Warn("bot_event_dropped", map[string]any{"kind": string(kind), "bot_id": v.ID})
	}
}

func (m *Manager) setStatus(id string, s Status) {
	m.mu.Lock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if bs.view.Status == s {
		m.mu.Unlock()
		return
	}
	bs.view.Status = s
	bs.view.UpdatedAt = time.Now().UTC()
	v := bs.view
	m.mu.Unlock()
	m.emit(bus.TopicBotStatusChanged, v, "")
}

// run is the per-bot tick loop. It exits when the bot's context is cancelled
// or a live tick fails.
func (m *Manager) run(ctx context.Context, id string, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if halt := m.tick(ctx, id); halt {
				go m.haltFromError(id)
				return
			}
		}
	}
}

// tick runs one cycle and reports whether the bot must halt. Panics are
// contained and treated as live errors.
func (m *Manager) tick(ctx context.Context, id string) (halt bool) {
	m.mu.RLock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.RUnlock()
		return false
	}
	v := cloneView(bs.view, bs.running)
	strat := bs.strat
	m.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			observ.Error("bot_tick_panic", fmt.Errorf("%v", r), map[string]any{"bot_id": id})
			m.recordTickError(id, fmt.Errorf("tick panic: %v", r))
			halt = v.Mode == ModeLive
		}
	}()

	start := time.Now()
	var err error
	if v.Mode == ModeResearch {
		err = m.researchTick(ctx, id, v, strat)
	} else {
		err = m.tradeTick(ctx, id, v, strat)
	}
	observ.ObserveDuration("bot_tick_seconds", time.Since(start), nil)

	m.mu.Lock()
	if bs, ok := m.bots[id]; ok {
		bs.view.Metrics.TicksCompleted++
		bs.view.Metrics.LastTickAt = time.Now().UTC()
	}
	m.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		m.recordTickError(id, err)
		return v.Mode == ModeLive
	}
	m.setStatus(id, StatusIdle)
	return false
}

func (m *Manager) recordTickError(id string, err error) {
	m.mu.Lock()
	bs, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	bs.view.Status = StatusError
	bs.view.LastError = err.Error()
	bs.view.UpdatedAt = time.Now().UTC()
	v := bs.view
	m.mu.Unlock()

	m.persist(v)
	m.audit(audit.EntitySystem, id, "tick_error", err.Error(), map[string]any{"mode": string(v.Mode)})
	m.emit(bus.TopicBotStatusChanged, v, err.Error())
	observ.IncCounter("bot_tick_errors_total", map[string]string{"mode": string(v.Mode)})
}

// haltFromError is the auto-halt path for failed live ticks. It runs outside
// the tick goroutine so Halt can wait on the loop's done channel safely.
func (m *Manager) haltFromError(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Halt(ctx, id, "live tick failed"); err != nil && !errors.Is(err, ErrNotFound) {
		observ.Error("auto_halt_failed", err, map[string]any{"bot_id": id})
	}
	m.mu.RLock()
	bs, ok := m.bots[id]
	var v View
	if ok {
		v = cloneView(bs.view, bs.running)
	}
	m.mu.RUnlock()
	if ok && m.deps.Events != nil {
		_ = m.deps.Events.Publish(bus.AlertEvent{
			AlertID:   uuid.NewString(),
			Severity:  "critical",
			Title:     "Live bot auto-halted",
			Message:   fmt.Sprintf("bot %q halted after a failed live tick: %s", v.Name, v.LastError),
			Source:    "bot-manager",
			CreatedAt: time.Now().UTC(),
		})
	}
}

// tradeTick analyzes the bot's symbols and routes any qualifying intent
// through governance and execution.
func (m *Manager) onMarketSession(e bus.Event) {
	se, ok := e.(bus.MarketSessionEvent)
	if !ok {
		return
	}
	m.mu.Lock()
	m.marketOpen = se.Open
	m.mu.Unlock()
	observ.Log("market_session_changed", map[string]any{"open": se.Open})
}

func (m *Manager) tradeTick(ctx context.Context, id string, v View, strat strategy.Strategy) error {
	m.mu.RLock()
	open := m.marketOpen
	m.mu.RUnlock()
	if !open {
		observ.IncCounter("bot_ticks_skipped_market_closed_total", map[string]string{"mode": string(v.Mode)})
		return nil
	}

	if v.Mode == ModeLive {
		metrics, err := m.deps.Provider.RiskMetrics(ctx)
		if err != nil {
			return fmt.Errorf("standing risk check: %w", err)
		}
		limits := m.deps.Engine.Limits()
		if limits.MaxPortfolioLossPct > 0 && metrics.CurrentDrawdown >= limits.MaxPortfolioLossPct {
			return fmt.Errorf("standing risk check: drawdown %.1f%% breaches %.1f%% cap",
				metrics.CurrentDrawdown, limits.MaxPortfolioLossPct)
		}
	}

	m.setStatus(id, StatusAnalyzing)

	signals, err := m.deps.Feed.GetSignals(ctx, m.deps.SignalBatch)
	if err != nil {
		return fmt.Errorf("fetch signals: %w", err)
	}

	summary, err := m.deps.Provider.Summary(ctx)
	if err != nil {
		return fmt.Errorf("portfolio summary: %w", err)
	}

	m.mu.RLock()
	reduceOnly := m.reduceOnly
	m.mu.RUnlock()

	for _, symbol := range v.Symbols {
		features, err := strategy.Extract(signals, symbol, v.Config.FeatureWindowDays)
		if err != nil {
			if errors.Is(err, strategy.ErrInsufficientData) {
				continue
			}
			return err
		}
		prediction, err := strat.Analyze(features)
		if err != nil {
			if errors.Is(err, strategy.ErrInsufficientData) {
				continue
			}
			return err
		}
		if prediction.Direction == strategy.DirectionFlat || prediction.Confidence < v.Config.MinConfidence {
			continue
		}

		side := governance.SideBuy
		if prediction.Direction == strategy.DirectionDown {
			side = governance.SideSell
		}
		if side == governance.SideBuy {
			if reduceOnly {
				continue
			}
			if len(summary.Positions) >= v.Config.MaxPositions && summary.PositionValue(symbol) == 0 {
				continue
			}
		}
		if side == governance.SideSell && summary.PositionValue(symbol) == 0 {
			continue
		}

		price := features.LastPrice
		if price <= 0 {
			continue
		}
		budget := v.AllocatedCapital / float64(v.Config.MaxPositions)
		quantity := math.Floor(budget / price)
		if side == governance.SideSell {
			quantity = math.Floor(summary.PositionValue(symbol) / price)
		}
		if quantity <= 0 {
			continue
		}

		intent := governance.NewTradeIntent(symbol, side, quantity, governance.OrderMarket,
			quantity*price, id,
			fmt.Sprintf("%s predicts %s with confidence %.2f", strat.Name(), prediction.Direction, prediction.Confidence))
		if m.deps.Events != nil {
			_ = m.deps.Events.Publish(bus.TradeIntentEvent{
				IntentID:   intent.ID,
				Symbol:     intent.Symbol,
				Side:       string(intent.Side),
				Quantity:   intent.Quantity,
				ValueUSD:   intent.EstimatedValue,
				Originator: intent.Originator,
				CreatedAt:  intent.CreatedAt,
			})
		}

		decision := m.deps.Engine.Evaluate(ctx, intent)
		if !decision.Actionable() {
			m.mu.Lock()
			if bs, ok := m.bots[id]; ok {
				bs.view.Metrics.IntentsBlocked++
			}
			m.mu.Unlock()
			continue
		}
		if q, ok := decision.ModifiedQuantity(); ok && q > 0 {
			quantity = q
		}

		m.setStatus(id, StatusTrading)
		fill, err := m.deps.Executor.Execute(ctx, execution.Order{
			BotID:     id,
			Symbol:    symbol,
			Side:      string(side),
			Quantity:  quantity,
			OrderType: string(governance.OrderMarket),
			Price:     price,
		})
		if err != nil {
			if errors.Is(err, execution.ErrDuplicateOrder) {
				continue
			}
			return fmt.Errorf("execute %s %s: %w", side, symbol, err)
		}

		m.mu.Lock()
		if bs, ok := m.bots[id]; ok {
			bs.view.Metrics.TradesExecuted++
		}
		m.mu.Unlock()
		observ.IncCounter("bot_trades_total", map[string]string{"mode": string(v.Mode), "side": string(side)})
		m.audit(audit.EntityTrade, fill.OrderID, "bot_trade_executed",
			fmt.Sprintf("bot %q %s %v %s @ %.4f", v.Name, side, quantity, symbol, fill.FillPrice),
			map[string]any{"bot_id": id, "decision_id": decision.ID, "latency_ms": fill.LatencyMs})
	}
	return nil
}

// researchTick backtests the current model against the most recent window,
// retrains a candidate on the earlier window, and promotes it only when
// out-of-sample accuracy improves by at least the promotion margin.
func (m *Manager) researchTick(ctx context.Context, id string, v View, strat strategy.Strategy) error {
	m.setStatus(id, StatusLearning)

	signals, err := m.deps.Feed.GetSignals(ctx, m.deps.SignalBatch*2)
	if err != nil {
		return fmt.Errorf("fetch training signals: %w", err)
	}
	if len(signals) < 10 {
		return nil
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].Timestamp.Before(signals[j].Timestamp) })

	split := len(signals) * 7 / 10
	train, test := signals[:split], signals[split:]

	baseAcc := strategy.Backtest(strat, test)

	trainable, ok := strat.(strategy.Trainable)
	if !ok {
		m.mu.Lock()
		if bs, ok := m.bots[id]; ok {
			bs.view.Metrics.ModelAccuracy = baseAcc
		}
		m.mu.Unlock()
		return nil
	}

	candidate := trainable.Retrain(train)
	candAcc := strategy.Backtest(candidate, test)
	margin := m.deps.PromotionMarginPct / 100

	promoted := candAcc >= baseAcc+margin
	m.mu.Lock()
	if bs, ok := m.bots[id]; ok {
		bs.view.Metrics.Retrains++
		if promoted {
			bs.strat = candidate
			bs.view.Metrics.Promotions++
			bs.view.Metrics.ModelAccuracy = candAcc
		} else {
			bs.view.Metrics.ModelAccuracy = baseAcc
		}
		bs.view.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()

	action, desc := "model_retained", fmt.Sprintf(
		"candidate %.1f%% vs current %.1f%%: below +%.0fpp margin, keeping current",
		candAcc*100, baseAcc*100, m.deps.PromotionMarginPct)
	if promoted {
		action = "model_promoted"
		desc = fmt.Sprintf("candidate %.1f%% vs current %.1f%%: promoted (%s)",
			candAcc*100, baseAcc*100, candidate.Name())
		observ.IncCounter("model_promotions_total", nil)
	}
	m.audit(audit.EntityAnalyst, id, action, desc, map[string]any{
		"candidate_accuracy": candAcc,
		"current_accuracy":   baseAcc,
		"train_samples":      len(train),
		"test_samples":       len(test),
	})
	return nil
}
