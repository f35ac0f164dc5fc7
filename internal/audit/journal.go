package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventRecord is the persisted form of an Event.
type EventRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Type       string         `gorm:"not null;index" json:"type"`
	Actor      string         `gorm:"index" json:"actor"`
	Subject    string         `gorm:"index" json:"subject"`
	AssetID    uint64         `gorm:"index" json:"asset_id"`
	Amount     int64          `json:"amount"`
	Data       datatypes.JSON `json:"data"`
	OccurredAt time.Time      `gorm:"not null;index" json:"occurred_at"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName pins the journal table name.
func (EventRecord) TableName() string { return "engine_events" }

// Journal is an append-only event store on postgres.
type Journal struct {
	db *gorm.DB
}

// OpenJournal connects to postgres and migrates the journal table.
func OpenJournal(dsn string) (*Journal, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect journal database: %w", err)
	}
	return NewJournal(db)
}

// NewJournal wraps an existing gorm handle.
func NewJournal(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Deliver(ctx context.Context, ev Event) error {
	record, err := recordFromEvent(ev)
	if err != nil {
		return err
	}
	if err := j.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordFromEvent(ev Event) (*EventRecord, error) {
	data := datatypes.JSON("{}")
	if len(ev.Data) > 0 {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event data: %w", err)
		}
		data = datatypes.JSON(raw)
	}

	return &EventRecord{
		ID:         ev.ID,
		Type:       string(ev.Type),
		Actor:      ev.Actor.String(),
		Subject:    ev.Subject.String(),
		AssetID:    uint64(ev.AssetID),
		Amount:     ev.Amount,
		Data:       data,
		OccurredAt: ev.OccurredAt,
	}, nil
}
