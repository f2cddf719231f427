package store

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glogger "gorm.io/gorm/logger"
)

// GormStore persists bot records in Postgres. Saves are upserts keyed on
// the bot id so repeated status transitions stay one row per bot.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	if err := db.AutoMigrate(&BotRecord{}); err != nil {
		return nil, fmt.Errorf("migrate bot store: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) SaveBot(ctx context.Context, rec BotRecord) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save bot %s: %w", rec.ID, err)
	}
	return nil
}

func (g *GormStore) DeleteBot(ctx context.Context, id string) error {
	err := g.db.WithContext(ctx).Delete(&BotRecord{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("delete bot %s: %w", id, err)
	}
	return nil
}

func (g *GormStore) LoadBots(ctx context.Context) ([]BotRecord, error) {
	var recs []BotRecord
	err := g.db.WithContext(ctx).Order("created_at").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load bots: %w", err)
	}
	return recs, nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
