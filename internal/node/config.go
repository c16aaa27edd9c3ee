package node

import (
	"math"
	"time"

	"github.com/rudransh-shrivastava/peer-share/internal/config"
)

const (
	// maxMessageSize is the largest message pion's data channel reader
	// accepts in one read.
	maxMessageSize = math.MaxUint16

	flushInterval = 50 * time.Millisecond
	receivedQueue = 16
)

// chunkSize caps the configured chunk size to what a pion peer can read.
func chunkSize(cfg config.PeerConfig) int {
	return min(cfg.ChunkSize, maxMessageSize)
}

// threshold is the sender pause mark derived from the capped chunk size.
func threshold(cfg config.PeerConfig) uint64 {
	cfg.ChunkSize = chunkSize(cfg)
	return cfg.Threshold()
}
