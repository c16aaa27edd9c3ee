// Package transfer streams one file at a time over an open data channel:
// a file-meta frame, binary chunks, then a file-end frame.
package transfer

import (
	"errors"
	"time"
)

var (
	ErrTransferSizeExceeded   = errors.New("declared transfer size exceeds ceiling")
	ErrTransferBufferOverflow = errors.New("received bytes exceed ceiling")
	ErrChannelFailure         = errors.New("data channel failure")
	ErrNoActiveTransfer       = errors.New("no active transfer")
)

// Channel is the slice of *webrtc.DataChannel used for transfers.
type Channel interface {
	SendText(s string) error
	Send(data []byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
	Close() error
}

type Direction int

const (
	DirectionSend Direction = iota
	DirectionReceive
)

func (d Direction) String() string {
	if d == DirectionSend {
		return "send"
	}
	return "receive"
}

// Transfer describes one file in flight or finished.
type Transfer struct {
	ID               string
	Direction        Direction
	FileName         string
	DeclaredSize     int64
	BytesTransferred int64
	ChunkSize        int
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Artifact is a completed inbound file.
type Artifact struct {
	Transfer Transfer
	Data     []byte
}

// ProgressFunc observes a transfer after every chunk.
type ProgressFunc func(Transfer)
