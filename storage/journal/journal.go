// Package journal persists committed vault events to a SQL audit trail.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"stakevault/core/events"
)

// Entry is one persisted event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"index"`
	Ledger     string    `gorm:"index"`
	OpID       string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// Decode returns the event attributes stored with the entry.
func (e Entry) Decode() (map[string]string, error) {
	attrs := make(map[string]string)
	if e.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return attrs, nil
}

// Journal records events through gorm. It implements events.Emitter; write
// failures are logged and never propagate to the emitting operation.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dsn, err)
	}
	return New(db)
}

// New wraps an existing gorm connection.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Entry
	err := db.Order("seq desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	return &Journal{
		db:     db,
		logger: slog.Default(),
		nowFn:  func() time.Time { return time.Now().UTC() },
		seq:    last.Seq,
	}, nil
}

func (j *Journal) SetLogger(logger *slog.Logger) {
	if logger != nil {
		j.logger = logger
	}
}

func (j *Journal) SetNowFunc(now func() time.Time) {
	if now != nil {
		j.nowFn = now
	}
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt *events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Record(evt); err != nil {
		j.logger.Error("journal write failed", slog.String("type", evt.Type), slog.Any("error", err))
	}
}

// Record persists evt and returns the stored entry.
func (j *Journal) Record(evt *events.Event) (*Entry, error) {
	if evt == nil {
		return nil, errors.New("journal: nil event")
	}
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := &Entry{
		ID:         uuid.New(),
		Seq:        j.seq + 1,
		Type:       evt.Type,
		Ledger:     evt.Attributes["ledger"],
		OpID:       evt.Attributes["opId"],
		Attributes: string(payload),
		CreatedAt:  j.nowFn(),
	}
	if err := j.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = entry.Seq
	return entry, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	if err := j.db.Order("seq desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, nil
}

// ByType returns every entry of the given event type in emission order.
func (j *Journal) ByType(kind string) ([]Entry, error) {
	var entries []Entry
	if err := j.db.Where("type = ?", kind).Order("seq asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: by type: %w", err)
	}
	return entries, nil
}

// ByLedger returns every entry recorded for a ledger (hex id) in emission order.
func (j *Journal) ByLedger(ledger string) ([]Entry, error) {
	var entries []Entry
	if err := j.db.Where("ledger = ?", ledger).Order("seq asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: by ledger: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
