// Package store persists bot deployments across restarts. The file driver is
// the default; postgres is for shared deployments.
package store

import (
	"context"
	"time"
)

// BotRecord is the durable snapshot of a deployed bot. Runtime-only state
// (in-flight ticks, goroutines) is intentionally absent; a restart reloads
// bots in a stopped state.
type BotRecord struct {
	ID                string    `json:"id" gorm:"primaryKey;size:64"`
	Name              string    `json:"name" gorm:"size:128"`
	Strategy          string    `json:"strategy" gorm:"size:64"`
	Mode              string    `json:"mode" gorm:"size:16"`
	Status            string    `json:"status" gorm:"size:16"`
	Symbols           string    `json:"symbols"` // comma-joined
	AllocatedCapital  float64   `json:"allocated_capital"`
	MinConfidence     float64   `json:"min_confidence"`
	MaxPositions      int       `json:"max_positions"`
	StopLossPct       float64   `json:"stop_loss_pct"`
	TakeProfitPct     float64   `json:"take_profit_pct"`
	FeatureWindowDays int       `json:"feature_window_days"`
	TradesExecuted    int       `json:"trades_executed"`
	RealizedPnLUSD    float64   `json:"realized_pnl_usd"`
	LastError         string    `json:"last_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store is the persistence contract for bot deployments.
type Store interface {
	SaveBot(ctx context.Context, rec BotRecord) error
	DeleteBot(ctx context.Context, id string) error
	LoadBots(ctx context.Context) ([]BotRecord, error)
	Close() error
}
