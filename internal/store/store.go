// Package store provides the peer's transfer history.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-share/internal/db"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("transfer record not found")

// Filter narrows List. Zero values match everything.
type Filter struct {
	Direction string
	PeerID    string
	Status    string
	Limit     int
}

type TransferStore struct {
	db *gorm.DB
}

func NewTransferStore(gormDB *gorm.DB) *TransferStore {
	return &TransferStore{db: gormDB}
}

// Record inserts rec, assigning an id when it has none.
func (ts *TransferStore) Record(ctx context.Context, rec db.TransferRecord) (db.TransferRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = db.StatusCompleted
	}
	if err := ts.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return db.TransferRecord{}, fmt.Errorf("recording transfer %s: %w", rec.FileName, err)
	}
	return rec, nil
}

func (ts *TransferStore) Get(ctx context.Context, id string) (db.TransferRecord, error) {
	var rec db.TransferRecord
	err := ts.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.TransferRecord{}, ErrNotFound
	}
	return rec, err
}

// List returns matching records, newest first.
func (ts *TransferStore) List(ctx context.Context, filter Filter) ([]db.TransferRecord, error) {
	q := ts.db.WithContext(ctx).Model(&db.TransferRecord{})
	if filter.Direction != "" {
		q = q.Where("direction = ?", filter.Direction)
	}
	if filter.PeerID != "" {
		q = q.Where("peer_id = ?", filter.PeerID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []db.TransferRecord
	if err := q.Order("started_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Clear deletes every record and returns how many were removed.
func (ts *TransferStore) Clear(ctx context.Context) (int64, error) {
	res := ts.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&db.TransferRecord{})
	return res.RowsAffected, res.Error
}

var _ TransferRepository = (*TransferStore)(nil)
