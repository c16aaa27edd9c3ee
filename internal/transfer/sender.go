package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/sirupsen/logrus"
)

type SenderConfig struct {
	ChunkSize int
	// Threshold is the buffered amount above which the sender waits for a
	// drain signal.
	Threshold uint64
	// MaxSize refuses larger sources before anything is sent. Zero disables
	// the check.
	MaxSize int64
	// WarnSize only logs a warning.
	WarnSize int64

	OnProgress ProgressFunc
	Logger     *logrus.Logger
	Clock      clock.Clock
}

// Sender writes files to a channel, pausing whenever the channel's unsent
// backlog passes the threshold.
type Sender struct {
	ch      Channel
	codec   *protocol.Codec
	cfg     SenderConfig
	logger  *logrus.Logger
	clock   clock.Clock
	drained chan struct{}
}

func NewSender(ch Channel, cfg SenderConfig) *Sender {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	s := &Sender{
		ch:      ch,
		codec:   protocol.NewCodec(),
		cfg:     cfg,
		logger:  log,
		clock:   clk,
		drained: make(chan struct{}, 1),
	}

	ch.SetBufferedAmountLowThreshold(cfg.Threshold)
	ch.OnBufferedAmountLow(func() {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	})
	return s
}

// Send streams size bytes from r as name. Cancelling ctx abandons the
// transfer without reading further from r; the caller owns closing the
// channel in that case.
func (s *Sender) Send(ctx context.Context, r io.Reader, name string, size int64) (Transfer, error) {
	t := Transfer{
		ID:           uuid.NewString(),
		Direction:    DirectionSend,
		FileName:     name,
		DeclaredSize: size,
		ChunkSize:    s.cfg.ChunkSize,
		StartedAt:    s.clock.Now(),
	}

	if s.cfg.ChunkSize <= 0 {
		return t, fmt.Errorf("invalid chunk size %d", s.cfg.ChunkSize)
	}
	if s.cfg.MaxSize > 0 && size > s.cfg.MaxSize {
		return t, fmt.Errorf("%w: %d > %d", ErrTransferSizeExceeded, size, s.cfg.MaxSize)
	}
	if s.cfg.WarnSize > 0 && size >= s.cfg.WarnSize {
		s.logger.Warnf("Sending large file %s (%d bytes), the receiver may run short of memory", name, size)
	}

	meta, err := s.codec.EncodeFileMeta(name, size)
	if err != nil {
		return t, err
	}
	if err := s.ch.SendText(string(meta)); err != nil {
		return t, fmt.Errorf("%w: %v", ErrChannelFailure, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return t, err
		}

		chunk := make([]byte, s.cfg.ChunkSize)
		n, readErr := io.ReadFull(r, chunk)
		if n > 0 {
			if err := s.ch.Send(chunk[:n]); err != nil {
				return t, fmt.Errorf("%w: %v", ErrChannelFailure, err)
			}
			t.BytesTransferred += int64(n)
			if s.cfg.OnProgress != nil {
				s.cfg.OnProgress(t)
			}
			if err := s.waitForDrain(ctx); err != nil {
				return t, err
			}
		}

		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return t, fmt.Errorf("reading %s: %w", name, readErr)
		}
	}

	if t.BytesTransferred != size {
		s.logger.Warnf("File %s declared %d bytes but %d were sent", name, size, t.BytesTransferred)
	}

	end, err := s.codec.EncodeFileEnd()
	if err != nil {
		return t, err
	}
	if err := s.ch.SendText(string(end)); err != nil {
		return t, fmt.Errorf("%w: %v", ErrChannelFailure, err)
	}

	t.FinishedAt = s.clock.Now()
	s.logger.WithFields(logrus.Fields{"file": name, "bytes": t.BytesTransferred}).Info("Transfer sent")
	return t, nil
}

// Flush blocks until the channel has handed every queued byte to the
// transport, polling every interval.
func (s *Sender) Flush(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for s.ch.BufferedAmount() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// waitForDrain blocks while the channel holds more than the threshold.
func (s *Sender) waitForDrain(ctx context.Context) error {
	for s.ch.BufferedAmount() > s.cfg.Threshold {
		select {
		case <-s.drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
