package node

import (
	"context"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
)

func TestRoster_Apply(t *testing.T) {
	r := NewRoster()

	r.Apply(protocol.Envelope{Type: protocol.MsgYourID, ID: "los-self"})
	r.Apply(protocol.Envelope{Type: protocol.MsgPeerList, Peers: []string{"los-a", "los-b", "los-self"}})

	peers := r.List()
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	if peers[0].ID != "los-a" || peers[1].ID != "los-b" {
		t.Errorf("expected [los-a los-b], got %v", peers)
	}

	if !r.Apply(protocol.Envelope{Type: protocol.MsgNewPeer, ID: "los-c"}) {
		t.Error("expected new-peer to change the roster")
	}
	if r.Apply(protocol.Envelope{Type: protocol.MsgNewPeer, ID: "los-c"}) {
		t.Error("expected duplicate new-peer to be ignored")
	}

	r.Apply(protocol.Envelope{Type: protocol.MsgPeerDisconnect, ID: "los-a"})
	if _, ok := r.Get("los-a"); ok {
		t.Error("expected los-a to be removed")
	}
	if len(r.List()) != 2 {
		t.Errorf("expected 2 peers, got %d", len(r.List()))
	}
}

func TestRoster_DeviceInfo(t *testing.T) {
	r := NewRoster()
	r.Apply(protocol.Envelope{Type: protocol.MsgYourID, ID: "los-self"})

	info := &protocol.DeviceInfo{DeviceName: "laptop", DeviceType: "desktop"}
	r.Apply(protocol.Envelope{Type: protocol.MsgPeerDeviceInfo, PeerID: "los-a", DeviceInfo: info})

	p, ok := r.Get("los-a")
	if !ok {
		t.Fatal("expected device info to add the peer")
	}
	if p.Name() != "laptop" {
		t.Errorf("expected name 'laptop', got %q", p.Name())
	}

	if r.Apply(protocol.Envelope{Type: protocol.MsgPeerDeviceInfo, PeerID: "los-self", DeviceInfo: info}) {
		t.Error("expected own device info to be ignored")
	}

	if (PeerInfo{ID: "los-b"}).Name() != "los-b" {
		t.Error("expected id as fallback name")
	}
}

func TestRoster_WaitFor(t *testing.T) {
	r := NewRoster()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan PeerInfo, 1)
	go func() {
		p, err := r.WaitFor(ctx, "los-b")
		if err != nil {
			t.Errorf("WaitFor failed: %v", err)
		}
		done <- p
	}()

	r.Apply(protocol.Envelope{Type: protocol.MsgNewPeer, ID: "los-a"})
	r.Apply(protocol.Envelope{Type: protocol.MsgNewPeer, ID: "los-b"})

	select {
	case p := <-done:
		if p.ID != "los-b" {
			t.Errorf("expected los-b, got %q", p.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not return")
	}

	first, err := r.WaitFor(ctx, "")
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if first.ID != "los-a" {
		t.Errorf("expected lowest id los-a, got %q", first.ID)
	}
}

func TestRoster_WaitForCancelled(t *testing.T) {
	r := NewRoster()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.WaitFor(ctx, "los-x"); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
