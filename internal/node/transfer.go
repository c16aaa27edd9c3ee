package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-share/internal/db"
	"github.com/rudransh-shrivastava/peer-share/internal/session"
	"github.com/rudransh-shrivastava/peer-share/internal/transfer"
	"github.com/sirupsen/logrus"
)

var ErrChannelClosed = errors.New("data channel closed before transfer finished")

// link is the data channel to one peer and the receiver reading from it.
type link struct {
	peerID   string
	ch       transfer.Channel
	receiver *transfer.Receiver
	// owner is the session the channel belongs to. It is filled once
	// session.New returns, so it may briefly be empty for an initiator.
	owner *atomic.Pointer[session.Session]

	open     chan struct{}
	openOnce sync.Once
	closed   chan struct{}
	doneOnce sync.Once

	// sendMu serializes outbound transfers on the channel.
	sendMu sync.Mutex
}

func (l *link) markOpen() {
	l.openOnce.Do(func() { close(l.open) })
}

func (l *link) markClosed() {
	l.doneOnce.Do(func() { close(l.closed) })
}

func (n *Node) attachChannel(peerID string, dc *webrtc.DataChannel, owner *atomic.Pointer[session.Session]) {
	l := n.addLink(peerID, dc, owner)

	dc.OnOpen(func() {
		n.logger.Debugf("Data channel '%s' with %s open", dc.Label(), peerID)
		l.markOpen()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		n.handleDataMessage(l, msg.IsString, msg.Data)
	})
	dc.OnError(func(err error) {
		n.logger.Errorf("Data channel error with %s: %v", peerID, err)
	})
	dc.OnClose(func() {
		n.logger.Debugf("Data channel '%s' with %s closed", dc.Label(), peerID)
		n.handleChannelClosed(l)
	})
}

func (n *Node) addLink(peerID string, ch transfer.Channel, owner *atomic.Pointer[session.Session]) *link {
	l := &link{
		peerID: peerID,
		ch:     ch,
		owner:  owner,
		open:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	l.receiver = transfer.NewReceiver(ch, transfer.ReceiverConfig{
		Ceiling:    n.cfg.MaxFileSize,
		OnProgress: n.progress(peerID),
		Logger:     n.logger,
		Clock:      n.clock,
	})

	n.mu.Lock()
	n.links[peerID] = l
	n.mu.Unlock()
	return l
}

func (n *Node) link(peerID string) (*link, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.links[peerID]
	return l, ok
}

// closeSession ends the session that owns l, so that the next transfer with
// the same peer negotiates a fresh one.
func (n *Node) closeSession(l *link) {
	if l.owner == nil {
		return
	}
	if s := l.owner.Load(); s != nil {
		_ = s.Close()
	}
}

func (n *Node) progress(peerID string) transfer.ProgressFunc {
	if n.onProgress == nil {
		return nil
	}
	return func(t transfer.Transfer) { n.onProgress(peerID, t) }
}

func (n *Node) handleDataMessage(l *link, isString bool, data []byte) {
	if !isString {
		if err := l.receiver.HandleBinary(data); err != nil {
			n.handleReceiveError(l, err)
		}
		return
	}

	active, wasActive := l.receiver.Active()
	artifact, err := l.receiver.HandleText(data)
	if err != nil {
		n.handleReceiveError(l, err)
		return
	}
	if wasActive {
		if now, ok := l.receiver.Active(); ok && now.ID != active.ID {
			n.recordTransfer(l.peerID, active, fmt.Errorf("replaced by %s", now.FileName))
		}
	}
	if artifact != nil {
		n.deliver(l.peerID, artifact)
	}
}

// handleReceiveError reports aborts. The receiver has already dropped its
// buffer and closed the channel for ceiling violations; the session goes
// with it.
func (n *Node) handleReceiveError(l *link, err error) {
	switch {
	case errors.Is(err, transfer.ErrTransferSizeExceeded), errors.Is(err, transfer.ErrTransferBufferOverflow):
		n.logger.Errorf("Aborted transfer from %s: %v", l.peerID, err)
		n.emit(Received{PeerID: l.peerID, Err: err})
		n.recordTransfer(l.peerID, transfer.Transfer{Direction: transfer.DirectionReceive}, err)
		n.closeSession(l)
	case errors.Is(err, transfer.ErrNoActiveTransfer):
		n.logger.Warnf("Dropping data from %s outside a transfer", l.peerID)
	default:
		n.logger.Warnf("Ignoring data channel message from %s: %v", l.peerID, err)
	}
}

func (n *Node) handleChannelClosed(l *link) {
	l.markClosed()
	if t, ok := l.receiver.Active(); ok {
		l.receiver.Reset()
		n.logger.Warnf("Transfer of %s from %s cut short", t.FileName, l.peerID)
		n.emit(Received{PeerID: l.peerID, Transfer: t, Err: ErrChannelClosed})
		n.recordTransfer(l.peerID, t, ErrChannelClosed)
	}

	n.mu.Lock()
	if n.links[l.peerID] == l {
		delete(n.links, l.peerID)
	}
	n.mu.Unlock()

	n.closeSession(l)
}

func (n *Node) deliver(peerID string, artifact *transfer.Artifact) {
	t := artifact.Transfer
	path, sum, err := saveArtifact(n.cfg.DownloadDir, t.FileName, artifact.Data)
	if err != nil {
		n.logger.Errorf("Failed to save %s: %v", t.FileName, err)
	} else {
		n.logger.WithFields(logrus.Fields{"path": path, "sha256": sum}).Infof("Saved %s from %s", t.FileName, peerID)
	}
	n.emit(Received{PeerID: peerID, Transfer: t, Path: path, Checksum: sum, Err: err})
	n.recordTransfer(peerID, t, err)
}

func (n *Node) emit(r Received) {
	select {
	case n.received <- r:
	case <-n.closed:
	default:
		n.logger.Warnf("Dropping transfer notification for %s, nobody is listening", r.Transfer.FileName)
	}
}

// SendFile streams the file at path to peerID, negotiating a session first
// when there is no open channel to that peer.
func (n *Node) SendFile(ctx context.Context, peerID, path string) (transfer.Transfer, error) {
	f, err := os.Open(path)
	if err != nil {
		return transfer.Transfer{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return transfer.Transfer{}, err
	}
	if stat.IsDir() {
		return transfer.Transfer{}, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	size := stat.Size()

	if n.cfg.MaxFileSize > 0 && size > n.cfg.MaxFileSize {
		err := fmt.Errorf("%w: %s is %d bytes, limit %d", transfer.ErrTransferSizeExceeded, name, size, n.cfg.MaxFileSize)
		t := transfer.Transfer{Direction: transfer.DirectionSend, FileName: name, DeclaredSize: size}
		n.recordTransfer(peerID, t, err)
		return t, err
	}

	l, err := n.channelTo(ctx, peerID)
	if err != nil {
		return transfer.Transfer{}, err
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	cfg := transfer.SenderConfig{
		ChunkSize:  chunkSize(n.cfg),
		Threshold:  threshold(n.cfg),
		MaxSize:    n.cfg.MaxFileSize,
		WarnSize:   n.cfg.WarnFileSize,
		OnProgress: n.progress(peerID),
		Logger:     n.logger,
		Clock:      n.clock,
	}
	n.logger.Infof("Sending %s to %s in %d chunks", name, peerID, CalculateTotalChunks(size, int64(cfg.ChunkSize)))

	// The channel closing mid-transfer cancels the send.
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.closed:
			cancel()
		case <-sendCtx.Done():
		}
	}()

	sender := transfer.NewSender(l.ch, cfg)
	t, err := sender.Send(sendCtx, f, name, size)
	if err == nil {
		err = sender.Flush(sendCtx, flushInterval)
	}
	if err != nil && ctx.Err() == nil && sendCtx.Err() != nil {
		err = fmt.Errorf("%w: %w", transfer.ErrChannelFailure, ErrChannelClosed)
	}
	n.recordTransfer(peerID, t, err)
	return t, err
}

// channelTo returns an open link to peerID, reusing a live session when one
// already has a channel.
func (n *Node) channelTo(ctx context.Context, peerID string) (*link, error) {
	if s, ok := n.sessions.Get(peerID); ok && !s.State().Terminal() {
		if l, ok := n.link(peerID); ok {
			return n.waitOpen(ctx, s, l)
		}
	}

	if _, ok := n.roster.Get(peerID); !ok {
		n.logger.Warnf("Peer %s is not on the relay, the offer may be dropped", peerID)
	}

	s, err := n.sessions.Start(peerID, session.RoleInitiator)
	if err != nil {
		return nil, err
	}
	if err := s.Initiate(); err != nil {
		return nil, err
	}
	l, ok := n.link(peerID)
	if !ok {
		_ = s.Close()
		return nil, fmt.Errorf("no data channel to %s", peerID)
	}
	return n.waitOpen(ctx, s, l)
}

func (n *Node) waitOpen(ctx context.Context, s *session.Session, l *link) (*link, error) {
	select {
	case <-l.open:
		return l, nil
	case <-l.closed:
		return nil, ErrChannelClosed
	case <-s.Done():
		if s.State() == session.StateFailed {
			return nil, session.ErrSessionFailed
		}
		return nil, session.ErrSessionClosed
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

func (n *Node) recordTransfer(peerID string, t transfer.Transfer, cause error) {
	if n.history == nil {
		return
	}
	rec := historyRecord(peerID, t, cause)
	if rec.StartedAt.IsZero() {
		rec.StartedAt = n.clock.Now()
	}
	if p, ok := n.roster.Get(peerID); ok {
		rec.PeerName = p.Name()
	}
	if _, err := n.history.Record(context.Background(), rec); err != nil {
		n.logger.Warnf("Failed to record transfer history: %v", err)
	}
}

func historyRecord(peerID string, t transfer.Transfer, cause error) db.TransferRecord {
	rec := db.TransferRecord{
		ID:         t.ID,
		Direction:  t.Direction.String(),
		FileName:   t.FileName,
		Size:       t.DeclaredSize,
		Bytes:      t.BytesTransferred,
		PeerID:     peerID,
		Status:     db.StatusCompleted,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
	switch {
	case cause == nil:
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		rec.Status = db.StatusCancelled
		rec.Error = cause.Error()
	default:
		rec.Status = db.StatusFailed
		rec.Error = cause.Error()
	}
	return rec
}
