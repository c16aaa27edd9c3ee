package integration

import (
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeersSeeEachOther(t *testing.T) {
	net := NewNetwork(t)

	alice := net.NewPeer("alice", nil)
	bob := net.NewPeer("bob", nil)

	require.NotEqual(t, alice.ID(), bob.ID())
	assert.Contains(t, alice.ID(), protocol.PeerIDPrefix)

	require.Eventually(t, func() bool {
		p, ok := findPeer(alice.Peers(), bob.ID())
		return ok && p.Name() == "bob"
	}, 5*time.Second, 10*time.Millisecond, "alice should learn bob's device name")

	require.Eventually(t, func() bool {
		p, ok := findPeer(bob.Peers(), alice.ID())
		return ok && p.Name() == "alice"
	}, 5*time.Second, 10*time.Millisecond, "bob should receive alice's device info on join")

	bobID := bob.ID()
	require.NoError(t, bob.Close())

	assert.Eventually(t, func() bool {
		_, ok := findPeer(alice.Peers(), bobID)
		return !ok
	}, 5*time.Second, 10*time.Millisecond, "bob should disappear after disconnecting")
}

func TestRelayPingMeasuresRoundTrip(t *testing.T) {
	net := NewNetwork(t)
	alice := net.NewPeer("alice", nil)

	require.Eventually(t, func() bool {
		rtt, quality := alice.Quality()
		return rtt > 0 && quality == "good"
	}, 5*time.Second, 10*time.Millisecond)
}
