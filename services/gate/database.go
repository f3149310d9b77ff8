package gate

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Firing is the persisted last firing of a (task, client) pair. Times are
// unix milliseconds so comparisons are plain integer comparisons on every
// dialect.
type Firing struct {
	TaskID      string    `gorm:"column:task_id;primaryKey;type:varchar(64)"`
	ClientID    string    `gorm:"column:client_id;primaryKey;type:varchar(128)"`
	LastFiredMs int64     `gorm:"column:last_fired_ms;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Firing) TableName() string { return "interval_gates" }

type DBGate struct {
	db *gorm.DB
}

func NewDBGate(db *gorm.DB) *DBGate {
	return &DBGate{db: db}
}

func (g *DBGate) ShouldFire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error) {
	var f Firing
	res := g.db.WithContext(ctx).
		Where("task_id = ? AND client_id = ?", taskID, clientID).
		Limit(1).
		Find(&f)
	if res.Error != nil {
		return false, fmt.Errorf("read interval gate: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return true, nil
	}
	return due(time.UnixMilli(f.LastFiredMs), now, interval), nil
}

func (g *DBGate) RecordFire(ctx context.Context, taskID, clientID string, _ time.Duration, now time.Time) error {
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_fired_ms", "updated_at"}),
	}).Create(&Firing{
		TaskID:      taskID,
		ClientID:    clientID,
		LastFiredMs: now.UnixMilli(),
		UpdatedAt:   now,
	}).Error
	if err != nil {
		return fmt.Errorf("record interval gate: %w", err)
	}
	return nil
}

// Acquire first advances an expired row with a conditional update, then
// falls back to inserting the first firing. Either statement affecting a row
// means this caller won.
func (g *DBGate) Acquire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error) {
	nowMs := now.UnixMilli()

	upd := g.db.WithContext(ctx).Model(&Firing{}).
		Where("task_id = ? AND client_id = ? AND last_fired_ms <= ?", taskID, clientID, nowMs-interval.Milliseconds()).
		Updates(map[string]any{"last_fired_ms": nowMs, "updated_at": now})
	if upd.Error != nil {
		return false, fmt.Errorf("advance interval gate: %w", upd.Error)
	}
	if upd.RowsAffected == 1 {
		return true, nil
	}

	ins := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&Firing{
		TaskID:      taskID,
		ClientID:    clientID,
		LastFiredMs: nowMs,
		UpdatedAt:   now,
	})
	if ins.Error != nil {
		return false, fmt.Errorf("insert interval gate: %w", ins.Error)
	}
	return ins.RowsAffected == 1, nil
}
