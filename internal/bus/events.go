package bus

import "time"

// Topic identifies one event stream on the bus.
type Topic string

const (
	TopicTradeIntent        Topic = "trade.intent"
	TopicGovernanceDecision Topic = "trade.governance_decision"
	TopicSoftPull           Topic = "risk.soft_pull"
	TopicHardPull           Topic = "risk.hard_pull"
	TopicEmergencyReset     Topic = "risk.emergency_reset"
	TopicBotDeployed        Topic = "bot.deployed"
	TopicBotStarted         Topic = "bot.started"
	TopicBotStopped         Topic = "bot.stopped"
	TopicBotHalted          Topic = "bot.halted"
	TopicBotStatusChanged   Topic = "bot.status_changed"
	TopicAlertGenerated     Topic = "alert.generated"
	TopicMarketOpened       Topic = "market.opened"
	TopicMarketClosed       Topic = "market.closed"
	TopicSignalRefreshed    Topic = "oracle.signal_refreshed"
)

// Payloads are flat value structs: the bus stays a leaf dependency and no
// consumer needs the producing package's types.

type TradeIntentEvent struct {
	IntentID   string
	Symbol     string
	Side       string
	Quantity   float64
	ValueUSD   float64
	Originator string
	CreatedAt  time.Time
}

func (TradeIntentEvent) EventTopic() Topic { return TopicTradeIntent }

type GovernanceDecisionEvent struct {
	DecisionID string
	IntentID   string
	Symbol     string
	Verdict    string
	Authority  string
	Reason     string
	DecidedAt  time.Time
}

func (GovernanceDecisionEvent) EventTopic() Topic { return TopicGovernanceDecision }

type RiskActionEvent struct {
	Action      string // soft_pull | hard_pull
	Condition   string
	Reason      string
	TriggeredAt time.Time
}

func (e RiskActionEvent) EventTopic() Topic {
	if e.Action == "hard_pull" {
		return TopicHardPull
	}
	return TopicSoftPull
}

type EmergencyResetEvent struct {
	Operator string
	Reason   string
	ResetAt  time.Time
}

func (EmergencyResetEvent) EventTopic() Topic { return TopicEmergencyReset }

type BotLifecycleEvent struct {
	Kind      Topic // one of the bot.* topics
	BotID     string
	BotName   string
	Mode      string
	Status    string
	Reason    string
	ChangedAt time.Time
}

func (e BotLifecycleEvent) EventTopic() Topic { return e.Kind }

type AlertEvent struct {
	AlertID   string
	Severity  string
	Title     string
	Message   string
	Source    string
	CreatedAt time.Time
}

func (AlertEvent) EventTopic() Topic { return TopicAlertGenerated }

type MarketSessionEvent struct {
	Open bool
	At   time.Time
}

func (e MarketSessionEvent) EventTopic() Topic {
	if e.Open {
		return TopicMarketOpened
	}
	return TopicMarketClosed
}

type SignalRefreshedEvent struct {
	Source      string
	SignalCount int
	RefreshedAt time.Time
}

func (SignalRefreshedEvent) EventTopic() Topic { return TopicSignalRefreshed }
