package transfer

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/sirupsen/logrus"
)

type ReceiverConfig struct {
	// Ceiling bounds both the declared size and the bytes actually buffered.
	Ceiling int64

	OnProgress ProgressFunc
	Logger     *logrus.Logger
	Clock      clock.Clock
}

// Receiver reassembles inbound transfers in memory, never holding more than
// the ceiling.
type Receiver struct {
	ch     Channel
	codec  *protocol.Codec
	cfg    ReceiverConfig
	logger *logrus.Logger
	clock  clock.Clock

	mu        sync.Mutex
	current   *Transfer
	fragments [][]byte
}

func NewReceiver(ch Channel, cfg ReceiverConfig) *Receiver {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Receiver{
		ch:     ch,
		codec:  protocol.NewCodec(),
		cfg:    cfg,
		logger: log,
		clock:  clk,
	}
}

// HandleText processes a control frame. It returns the artifact when the
// frame completes a transfer.
func (r *Receiver) HandleText(data []byte) (*Artifact, error) {
	msgType, meta, err := r.codec.DecodeControl(data)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case protocol.MsgFileMeta:
		return nil, r.begin(meta)
	case protocol.MsgFileEnd:
		return r.finish()
	default:
		r.logger.Debugf("Ignoring data channel message %q", msgType)
		return nil, nil
	}
}

func (r *Receiver) begin(meta *protocol.FileMeta) error {
	if meta.Size > r.cfg.Ceiling {
		return r.Abort(fmt.Errorf("%w: %s declares %d bytes, ceiling %d", ErrTransferSizeExceeded, meta.Name, meta.Size, r.cfg.Ceiling))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.logger.Warnf("Discarding incomplete transfer %s", r.current.FileName)
	}
	r.fragments = nil
	r.current = &Transfer{
		ID:           uuid.NewString(),
		Direction:    DirectionReceive,
		FileName:     meta.Name,
		DeclaredSize: meta.Size,
		StartedAt:    r.clock.Now(),
	}
	r.logger.WithFields(logrus.Fields{"file": meta.Name, "size": meta.Size}).Info("Receiving file")
	return nil
}

// HandleBinary buffers one chunk. The receiver keeps data; callers must not
// reuse it.
func (r *Receiver) HandleBinary(data []byte) error {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return ErrNoActiveTransfer
	}
	if r.current.BytesTransferred+int64(len(data)) > r.cfg.Ceiling {
		received := r.current.BytesTransferred
		r.mu.Unlock()
		return r.Abort(fmt.Errorf("%w: %d + %d > %d", ErrTransferBufferOverflow, received, len(data), r.cfg.Ceiling))
	}

	r.fragments = append(r.fragments, data)
	r.current.BytesTransferred += int64(len(data))
	r.current.ChunkSize = max(r.current.ChunkSize, len(data))
	snapshot := *r.current
	r.mu.Unlock()

	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(snapshot)
	}
	return nil
}

func (r *Receiver) finish() (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil, ErrNoActiveTransfer
	}

	data := make([]byte, 0, r.current.BytesTransferred)
	for _, frag := range r.fragments {
		data = append(data, frag...)
	}

	t := *r.current
	t.FinishedAt = r.clock.Now()
	r.current = nil
	r.fragments = nil

	if t.BytesTransferred != t.DeclaredSize {
		r.logger.Warnf("File %s declared %d bytes but %d arrived", t.FileName, t.DeclaredSize, t.BytesTransferred)
	}
	r.logger.WithFields(logrus.Fields{"file": t.FileName, "bytes": t.BytesTransferred}).Info("Transfer received")
	return &Artifact{Transfer: t, Data: data}, nil
}

// Abort drops any buffered data, closes the channel and returns cause.
func (r *Receiver) Abort(cause error) error {
	r.Reset()
	r.logger.Errorf("Transfer aborted: %v", cause)
	if err := r.ch.Close(); err != nil {
		r.logger.Debugf("Failed to close data channel: %v", err)
	}
	return cause
}

// Reset drops any buffered data without touching the channel, for use once
// the channel is already gone.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
	r.fragments = nil
}

// Active returns the transfer in progress, if any.
func (r *Receiver) Active() (Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Transfer{}, false
	}
	return *r.current, true
}

// Buffered returns how many fragments are held.
func (r *Receiver) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fragments)
}
