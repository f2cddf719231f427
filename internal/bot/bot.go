// Package bot owns the lifecycle of automated trading bots: deployment,
// mode/status transitions, tick scheduling, and the halt paths used by the
// emergency monitor. All bot state lives behind the Manager.
package bot

import (
	"strings"
	"time"

	"github.com/quantrail/trade-governor/internal/store"
)

// Mode is the operating regime of a bot. Halted is entered through the halt
// paths only, never at deploy time.
type Mode string

const (
	ModeResearch Mode = "research"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
	ModeHalted   Mode = "halted"
)

func (m Mode) valid() bool {
	switch m {
	case ModeResearch, ModePaper, ModeLive:
		return true
	}
	return false
}

// Status is what a bot is doing right now.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusAnalyzing Status = "analyzing"
	StatusTrading   Status = "trading"
	StatusLearning  Status = "learning"
	StatusError     Status = "error"
)

// Config is the per-bot tuning surface. Zero fields are filled from the
// manager defaults at deploy time.
type Config struct {
	FeatureWindowDays int     `json:"feature_window_days"`
	MinConfidence     float64 `json:"min_confidence"`
	MaxPositions      int     `json:"max_positions"`
	StopLossPct       float64 `json:"stop_loss_pct"`
	TakeProfitPct     float64 `json:"take_profit_pct"`
}

// Metrics accumulates per-bot outcomes. Zeroed at deploy.
type Metrics struct {
	TicksCompleted int       `json:"ticks_completed"`
	TradesExecuted int       `json:"trades_executed"`
	IntentsBlocked int       `json:"intents_blocked"`
	RealizedPnLUSD float64   `json:"realized_pnl_usd"`
	ModelAccuracy  float64   `json:"model_accuracy"`
	Retrains       int       `json:"retrains"`
	Promotions     int       `json:"promotions"`
	LastTickAt     time.Time `json:"last_tick_at"`
}

// View is a read-only snapshot of a bot, safe to hand outside the manager.
type View struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Strategy         string    `json:"strategy"`
	Mode             Mode      `json:"mode"`
	Status           Status    `json:"status"`
	Symbols          []string  `json:"symbols"`
	AllocatedCapital float64   `json:"allocated_capital"`
	Config           Config    `json:"config"`
	Metrics          Metrics   `json:"metrics"`
	Running          bool      `json:"running"`
	LastError        string    `json:"last_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DeployRequest describes a new bot.
type DeployRequest struct {
	Name             string   `json:"name"`
	Strategy         string   `json:"strategy"`
	Mode             Mode     `json:"mode"`
	Symbols          []string `json:"symbols"`
	AllocatedCapital float64  `json:"allocated_capital"`
	Config           Config   `json:"config"`
	AutoStart        bool     `json:"auto_start"`
}

func toRecord(v View) store.BotRecord {
	return store.BotRecord{
		ID:                v.ID,
		Name:              v.Name,
		Strategy:          v.Strategy,
		Mode:              string(v.Mode),
		Status:            string(v.Status),
		Symbols:           strings.Join(v.Symbols, ","),
		AllocatedCapital:  v.AllocatedCapital,
		MinConfidence:     v.Config.MinConfidence,
		MaxPositions:      v.Config.MaxPositions,
		StopLossPct:       v.Config.StopLossPct,
		TakeProfitPct:     v.Config.TakeProfitPct,
		FeatureWindowDays: v.Config.FeatureWindowDays,
		TradesExecuted:    v.Metrics.TradesExecuted,
		RealizedPnLUSD:    v.Metrics.RealizedPnLUSD,
		LastError:         v.LastError,
		CreatedAt:         v.CreatedAt,
		UpdatedAt:         v.UpdatedAt,
	}
}

func fromRecord(rec store.BotRecord) View {
	var symbols []string
	if rec.Symbols != "" {
		symbols = strings.Split(rec.Symbols, ",")
	}
	return View{
		ID:               rec.ID,
		Name:             rec.Name,
		Strategy:         rec.Strategy,
		Mode:             Mode(rec.Mode),
		Status:           Status(rec.Status),
		Symbols:          symbols,
		AllocatedCapital: rec.AllocatedCapital,
		Config: Config{
			FeatureWindowDays: rec.FeatureWindowDays,
			MinConfidence:     rec.MinConfidence,
			MaxPositions:      rec.MaxPositions,
			StopLossPct:       rec.StopLossPct,
			TakeProfitPct:     rec.TakeProfitPct,
		},
		Metrics: Metrics{
			TradesExecuted: rec.TradesExecuted,
			RealizedPnLUSD: rec.RealizedPnLUSD,
		},
		LastError: rec.LastError,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
