package relay

import (
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeerID(t *testing.T) {
	id := NewPeerID()

	assert.True(t, strings.HasPrefix(id, protocol.PeerIDPrefix))
	assert.Len(t, id, len(protocol.PeerIDPrefix)+9)
	assert.NotEqual(t, id, NewPeerID())
}

func TestRegistryAdmitLookupRemove(t *testing.T) {
	reg := NewRegistry(clock.NewMock())
	conn := newFakeConn("a")

	id, err := reg.Admit(conn, 0)
	require.NoError(t, err)

	got, err := reg.Lookup(id)
	require.NoError(t, err)
	assert.Same(t, conn, got)

	owner, ok := reg.IDOf(conn)
	assert.True(t, ok)
	assert.Equal(t, id, owner)

	assert.True(t, reg.Remove(id))
	assert.False(t, reg.Remove(id))

	_, err = reg.Lookup(id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok = reg.IDOf(conn)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRejectsDuplicateConn(t *testing.T) {
	reg := NewRegistry(clock.NewMock())
	conn := newFakeConn("a")

	_, err := reg.Admit(conn, 0)
	require.NoError(t, err)

	_, err = reg.Admit(conn, 0)
	assert.ErrorIs(t, err, ErrAlreadyAdmitted)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryCapacity(t *testing.T) {
	reg := NewRegistry(clock.NewMock())

	for i := 0; i < 2; i++ {
		_, err := reg.Admit(newFakeConn("c"), 2)
		require.NoError(t, err)
	}

	_, err := reg.Admit(newFakeConn("overflow"), 2)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryRetriesCollidingIDs(t *testing.T) {
	reg := NewRegistry(clock.NewMock())
	ids := []string{"los-aaaaaaaaa", "los-aaaaaaaaa", "los-bbbbbbbbb"}
	reg.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := reg.Admit(newFakeConn("a"), 0)
	require.NoError(t, err)
	second, err := reg.Admit(newFakeConn("b"), 0)
	require.NoError(t, err)

	assert.Equal(t, "los-aaaaaaaaa", first)
	assert.Equal(t, "los-bbbbbbbbb", second)
}

func TestRegistryRemoveConnOnce(t *testing.T) {
	reg := NewRegistry(clock.NewMock())
	conn := newFakeConn("a")
	id, err := reg.Admit(conn, 0)
	require.NoError(t, err)

	removed, ok := reg.RemoveConn(conn)
	assert.True(t, ok)
	assert.Equal(t, id, removed)

	_, ok = reg.RemoveConn(conn)
	assert.False(t, ok)
}

func TestRegistryAllIDsInAdmissionOrder(t *testing.T) {
	reg := NewRegistry(clock.NewMock())
	var ids []string
	for _, name := range []string{"a", "b", "c", "d"} {
		id, err := reg.Admit(newFakeConn(name), 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Equal(t, ids, reg.AllIDs(""))
	assert.Equal(t, []string{ids[0], ids[2], ids[3]}, reg.AllIDs(ids[1]))
	assert.Len(t, reg.Conns(ids[0]), 3)
}

func TestRegistryDeviceInfo(t *testing.T) {
	reg := NewRegistry(clock.NewMock())
	id, err := reg.Admit(newFakeConn("a"), 0)
	require.NoError(t, err)

	require.NoError(t, reg.SetDeviceInfo(id, protocol.DeviceInfo{DeviceName: "laptop"}))
	assert.ErrorIs(t, reg.SetDeviceInfo("los-missing", protocol.DeviceInfo{}), ErrNotFound)

	peers := reg.Peers("")
	require.Len(t, peers, 1)
	require.NotNil(t, peers[0].DeviceInfo)
	assert.Equal(t, "laptop", peers[0].DeviceInfo.DeviceName)
}

func TestRegistryProbe(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(mock)
	a, b := newFakeConn("a"), newFakeConn("b")
	_, err := reg.Admit(a, 0)
	require.NoError(t, err)
	_, err = reg.Admit(b, 0)
	require.NoError(t, err)

	dead, probe := reg.Probe()
	assert.Empty(t, dead)
	assert.Len(t, probe, 2)

	reg.MarkAlive(a)

	dead, probe = reg.Probe()
	assert.Equal(t, []Conn{b}, dead)
	assert.Equal(t, []Conn{a}, probe)
}
