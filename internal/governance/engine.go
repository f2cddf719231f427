package governance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantrail/trade-governor/internal/audit"
	"github.com/quantrail/trade-governor/internal/bus"
	"github.com/quantrail/trade-governor/internal/observ"
	"github.com/quantrail/trade-governor/internal/portfolio"
)

// EmergencyCheck reports whether the emergency monitor has halted trading.
// The engine treats it as its highest-priority gate: nothing a rule or bot
// configures can bypass it.
type EmergencyCheck func() bool

// Engine is the rule engine ("Monarch"). It owns the rule set and the risk
// limits; portfolio data, audit and the bus are injected collaborators.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]Rule
	limits RiskLimits

	provider  portfolio.Provider
	recorder  *audit.Recorder
	events    *bus.Bus
	emergency EmergencyCheck

	evaluators map[string]evaluator
}

// NewEngine builds an engine with the built-in rule set. emergency may be nil
// when no overseer is wired (tests).
func NewEngine(provider portfolio.Provider, recorder *audit.Recorder, events *bus.Bus, limits RiskLimits, emergency EmergencyCheck) *Engine {
	e := &Engine{
		rules:      make(map[string]Rule),
		limits:     limits,
		provider:   provider,
		recorder:   recorder,
		events:     events,
		emergency:  emergency,
		evaluators: builtinEvaluators(),
	}
	for _, r := range DefaultRules() {
		e.rules[r.ID] = r
	}
	return e
}

// Evaluate runs one intent through the ordered rule set and returns the
// decision. Every call writes exactly one audit entry, whatever the verdict.
func (e *Engine) Evaluate(ctx context.Context, intent TradeIntent) Decision {
	start := time.Now()

	if e.emergency != nil && e.emergency() {
		d := e.finish(intent, Decision{
			Verdict:   VerdictRejected,
			Authority: AuthorityOverseer,
			Reason:    "emergency mode active: all trading halted",
		}, start)
		return d
	}

	summary, err := e.provider.Summary(ctx)
	var metrics portfolio.RiskMetrics
	if err == nil {
		metrics, err = e.provider.RiskMetrics(ctx)
	}
	if err != nil {
		// Fail closed: without portfolio data the engine never approves.
		observ.IncCounter("governance_provider_errors_total", nil)
		return e.finish(intent, Decision{
			Verdict:   VerdictRequiresApproval,
			Authority: AuthorityMonarch,
			Reason:    fmt.Sprintf("portfolio data unavailable (%v); manual approval required", err),
		}, start)
	}

	e.mu.RLock()
	rules := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	limits := e.limits
	e.mu.RUnlock()

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	rctx := ruleContext{intent: intent, summary: summary, metrics: metrics, limits: limits}

	decision := Decision{
		Verdict:   VerdictApproved,
		Authority: AuthorityMonarch,
	}
	var reasons []string
	modifications := map[string]any{}

	for _, rule := range rules {
		eval, ok := e.evaluators[rule.Kind]
		if !ok {
			observ.IncCounter("governance_unknown_rule_kind_total", map[string]string{"kind": rule.Kind})
			continue
		}
		out := eval(rule, rctx)
		if !out.triggered {
			continue
		}
		decision.AppliedRules = append(decision.AppliedRules, rule.ID)
		reasons = append(reasons, out.reason)

		if rule.HasAction(ActionFlag) {
			e.emitFlag(rule, intent, out.reason)
		}
		if rule.HasAction(ActionReject) || out.escalateReject {
			// First reject wins and discards any accumulated modifications.
			decision.Verdict = VerdictRejected
			decision.Reason = out.reason
			modifications = nil
			break
		}
		if rule.HasAction(ActionRequireApproval) {
			decision.Verdict = VerdictRequiresApproval
		}
		if rule.HasAction(ActionModify) && len(out.modifications) > 0 {
			for k, v := range out.modifications {
				modifications[k] = v
			}
			if decision.Verdict == VerdictApproved {
				decision.Verdict = VerdictModified
			}
		}
	}

	if len(modifications) > 0 && decision.Verdict != VerdictRejected {
		decision.Modifications = modifications
	}
	if decision.Reason == "" {
		switch decision.Verdict {
		case VerdictApproved:
			decision.Reason = "all governance rules passed"
		default:
			decision.Reason = strings.Join(reasons, "; ")
		}
	}

	return e.finish(intent, decision, start)
}

// finish stamps, records and publishes the decision.
func (e *Engine) finish(intent TradeIntent, d Decision, start time.Time) Decision {
	d.ID = uuid.NewString()
	d.IntentID = intent.ID
	d.DecidedAt = time.Now().UTC()

	observ.ObserveDuration("governance_evaluate", time.Since(start), nil)
	observ.IncCounter("governance_decisions_total", map[string]string{"verdict": string(d.Verdict)})

	if e.recorder != nil {
		payload := map[string]any{
			"decision_id":   d.ID,
			"verdict":       string(d.Verdict),
			"authority":     string(d.Authority),
			"applied_rules": d.AppliedRules,
			"symbol":        intent.Symbol,
			"side":          string(intent.Side),
			"quantity":      intent.Quantity,
			"value_usd":     intent.EstimatedValue,
			"originator":    intent.Originator,
		}
		if len(d.Modifications) > 0 {
			payload["modifications"] = d.Modifications
		}
		if _, err := e.recorder.Record(audit.EntityTrade, intent.ID, "governance_decision", d.Reason, payload); err != nil {
			observ.Error("audit_record_failed", err, map[string]any{"intent_id": intent.ID})
		}
	}
	if e.events != nil {
		_ = e.events.Publish(bus.GovernanceDecisionEvent{
			DecisionID: d.ID,
			IntentID:   intent.ID,
			Symbol:     intent.Symbol,
			Verdict:    string(d.Verdict),
			Authority:  string(d.Authority),
			Reason:     d.Reason,
			DecidedAt:  d.DecidedAt,
		})
	}
	return d
}

func (e *Engine) emitFlag(rule Rule, intent TradeIntent, reason string) {
	observ.IncCounter("governance_flags_total", map[string]string{"rule": rule.ID})
	if e.events == nil {
		return
	}
	_ = e.events.Publish(bus.AlertEvent{
		AlertID:   uuid.NewString(),
		Severity:  "high",
		Title:     rule.Name,
		Message:   fmt.Sprintf("%s: %s", intent.Symbol, reason),
		Source:    "monarch",
		CreatedAt: time.Now().UTC(),
	})
}

// Limits returns the current risk limits.
func (e *Engine) Limits() RiskLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

// UpdateLimits replaces the policy surface. The change itself is audited.
func (e *Engine) UpdateLimits(limits RiskLimits, actor, reason string) error {
	e.mu.Lock()
	old := e.limits
	e.limits = limits
	e.mu.Unlock()

	if e.recorder != nil {
		if _, err := e.recorder.Record(audit.EntityRisk, "", "risk_limits_updated", reason, map[string]any{
			"actor":    actor,
			"previous": old,
			"current":  limits,
		}); err != nil {
			return fmt.Errorf("audit risk limits update: %w", err)
		}
	}
	return nil
}

// Rules returns a priority-ordered snapshot of the rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// AddRule inserts or replaces a rule. Unknown kinds are rejected up front so
// a misconfigured rule cannot silently never fire.
func (e *Engine) AddRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule id required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.evaluators[r.Kind]; !ok {
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	e.rules[r.ID] = r
	return nil
}

// SetRuleEnabled toggles a rule without touching its definition.
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("unknown rule %q", id)
	}
	r.Enabled = enabled
	e.rules[id] = r
	return nil
}

// NewTradeIntent stamps a fresh intent with an id and creation time.
func NewTradeIntent(symbol string, side Side, quantity float64, orderType OrderType, estimatedValue float64, originator, reasoning string) TradeIntent {
	return TradeIntent{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Side:           side,
		Quantity:       quantity,
		OrderType:      orderType,
		EstimatedValue: estimatedValue,
		Originator:     originator,
		Reasoning:      reasoning,
		CreatedAt:      time.Now().UTC(),
	}
}
