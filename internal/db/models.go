package db

import "time"

// Transfer outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// TransferRecord is one finished transfer. File contents are never stored.
type TransferRecord struct {
	ID         string `gorm:"primaryKey"`
	Direction  string `gorm:"index;not null"`
	FileName   string `gorm:"not null"`
	Size       int64
	Bytes      int64
	PeerID     string `gorm:"index"`
	PeerName   string
	Status     string `gorm:"index;not null"`
	Error      string
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
}
