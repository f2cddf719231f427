// Package overseer watches the portfolio independently of trade-time
// governance and pulls the emergency brake when loss or concentration
// conditions trip. It acts at most once per polling tick.
package overseer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantrail/trade-governor/internal/audit"
	"github.com/quantrail/trade-governor/internal/bus"
	"github.com/quantrail/trade-governor/internal/observ"
	"github.com/quantrail/trade-governor/internal/portfolio"
)

var ErrNotInEmergency = errors.New("emergency mode is not active")

// Halter is the bot-fleet control surface the overseer acts through.
type Halter interface {
	HaltAll(ctx context.Context, reason string) []string
	ReduceExposure(reason string)
	ResumeExposure()
}

// Config tunes the monitor. Percentages are positive magnitudes.
type Config struct {
	PollInterval          time.Duration
	HardPullDayLossPct    float64
	SoftPullDayLossPct    float64
	ConcentrationLimitPct float64
	SoftPullCooldown      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.HardPullDayLossPct <= 0 {
		c.HardPullDayLossPct = 20
	}
	if c.SoftPullDayLossPct <= 0 {
		c.SoftPullDayLossPct = 10
	}
	if c.ConcentrationLimitPct <= 0 {
		c.ConcentrationLimitPct = 40
	}
	if c.SoftPullCooldown <= 0 {
		c.SoftPullCooldown = 5 * time.Minute
	}
	return c
}

// Overseer polls portfolio state and fires hard or soft pulls. Emergency mode
// is one-way: once a hard pull sets it, only ClearEmergencyMode resumes
// normal operation.
type Overseer struct {
	cfg      Config
	provider portfolio.Provider
	recorder *audit.Recorder
	events   *bus.Bus
	halter   Halter

	mu           sync.Mutex
	emergency    bool
	lastSoftPull map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, provider portfolio.Provider, halter Halter, recorder *audit.Recorder, events *bus.Bus) *Overseer {
	return &Overseer{
		cfg:          cfg.withDefaults(),
		provider:     provider,
		recorder:     recorder,
		events:       events,
		halter:       halter,
		lastSoftPull: make(map[string]time.Time),
	}
}

// Start launches the polling loop.
func (o *Overseer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.CheckNow(ctx)
			}
		}
	}()
	observ.Log("overseer_started", map[string]any{"poll_interval": o.cfg.PollInterval.String()})
}

// Stop halts the polling loop. Emergency mode, if set, stays set.
func (o *Overseer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// EmergencyActive reports whether a hard pull has fired and not been cleared.
// The rule engine consults this before any other rule.
func (o *Overseer) EmergencyActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emergency
}

// ClearEmergencyMode is the only way out of emergency mode. The reset is
// attributed to the operator, audited, and broadcast.
func (o *Overseer) ClearEmergencyMode(operator, reason string) error {
	o.mu.Lock()
	if !o.emergency {
		o.mu.Unlock()
		return ErrNotInEmergency
	}
	o.emergency = false
	o.mu.Unlock()

	o.halter.ResumeExposure()
	observ.SetGauge("emergency_mode", 0, nil)
	o.audit("", "emergency_cleared",
		fmt.Sprintf("emergency mode cleared by %s: %s", operator, reason),
		map[string]any{"operator": operator, "reason": reason})
	o.publish(bus.EmergencyResetEvent{Operator: operator, Reason: reason, ResetAt: time.Now().UTC()})
	return nil
}

// CheckNow evaluates the ordered conditions once. The overseer mutex is held
// for the whole evaluation so concurrent ticks cannot both act.
func (o *Overseer) CheckNow(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.emergency {
		return
	}

	summary, err := o.provider.Summary(ctx)
	if err != nil {
		observ.IncCounter("overseer_provider_errors_total", nil)
		observ.Warn("overseer_summary_unavailable", map[string]any{"error": err.Error()})
		return
	}
	metrics, err := o.provider.RiskMetrics(ctx)
	if err != nil {
		observ.IncCounter("overseer_provider_errors_total", nil)
		observ.Warn("overseer_metrics_unavailable", map[string]any{"error": err.Error()})
		return
	}

	// Ordered checks, one action per tick at most. Hard pull outranks both
	// soft conditions.
	switch {
	case summary.DayChangePct <= -o.cfg.HardPullDayLossPct:
		o.hardPullLocked(ctx, fmt.Sprintf("day change %.1f%% breached the -%.0f%% hard limit",
			summary.DayChangePct, o.cfg.HardPullDayLossPct))
	case metrics.ConcentrationRisk >= o.cfg.ConcentrationLimitPct:
		o.softPullLocked("concentration", fmt.Sprintf("concentration %.1f%% at or above the %.0f%% limit",
			metrics.ConcentrationRisk, o.cfg.ConcentrationLimitPct))
	case metrics.IntradayLossPct >= o.cfg.SoftPullDayLossPct:
		o.softPullLocked("intraday_loss", fmt.Sprintf("intraday loss %.1f%% at or above the %.0f%% limit",
			metrics.IntradayLossPct, o.cfg.SoftPullDayLossPct))
	}
}

func (o *Overseer) hardPullLocked(ctx context.Context, reason string) {
	o.emergency = true
	observ.SetGauge("emergency_mode", 1, nil)
	observ.IncCounter("overseer_hard_pulls_total", nil)

	halted := o.halter.HaltAll(ctx, "emergency hard pull: "+reason)

	o.audit("", "hard_pull", reason, map[string]any{"halted_bots": halted})
	o.publish(bus.RiskActionEvent{
		Action:      "hard_pull",
		Condition:   "day_loss",
		Reason:      reason,
		TriggeredAt: time.Now().UTC(),
	})
	o.alert("critical", "Emergency hard pull", reason)
	observ.Error("overseer_hard_pull", nil, map[string]any{"reason": reason, "halted_bots": halted})
}

func (o *Overseer) softPullLocked(condition, reason string) {
	if last, ok := o.lastSoftPull[condition]; ok && time.Since(last) < o.cfg.SoftPullCooldown {
		return
	}
	o.lastSoftPull[condition] = time.Now()
	observ.IncCounter("overseer_soft_pulls_total", map[string]string{"condition": condition})

	o.halter.ReduceExposure(reason)

	o.audit("", "soft_pull", reason, map[string]any{"condition": condition})
	o.publish(bus.RiskActionEvent{
		Action:      "soft_pull",
		Condition:   condition,
		Reason:      reason,
		TriggeredAt: time.Now().UTC(),
	})
	o.alert("high", "Exposure reduction", reason)
	observ.Warn("overseer_soft_pull", map[string]any{"condition": condition, "reason": reason})
}

func (o *Overseer) audit(entityID, action, description string, payload map[string]any) {
	if o.recorder == nil {
		return
	}
	if _, err := o.recorder.Record(audit.EntityRisk, entityID, action, description, payload); err != nil {
		observ.Error("overseer_audit_failed", err, map[string]any{"action": action})
	}
}

func (o *Overseer) publish(e bus.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(e); err != nil {
		observ.Warn("overseer_event_dropped", map[string]any{"topic": string(e.EventTopic())})
	}
}

func (o *Overseer) alert(severity, title, message string) {
	if o.events == nil {
		return
	}
	_ = o.events.Publish(bus.AlertEvent{
		AlertID:   uuid.NewString(),
		Severity:  severity,
		Title:     title,
		Message:   message,
		Source:    "overseer",
		CreatedAt: time.Now().UTC(),
	})
}
