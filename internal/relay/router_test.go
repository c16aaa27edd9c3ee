package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rudransh-shrivastava/peer-share/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterArrivalSequence(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)

	a := newFakeConn("a")
	idA, err := r.Connect(a)
	require.NoError(t, err)

	msgs := a.messages(t)
	require.Len(t, msgs, 1, "first peer must not receive an empty peer-list")
	assert.Equal(t, protocol.MsgYourID, msgs[0].Type)
	assert.Equal(t, idA, msgs[0].ID)

	b := newFakeConn("b")
	idB, err := r.Connect(b)
	require.NoError(t, err)

	msgs = b.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.Envelope{Type: protocol.MsgYourID, ID: idB}, msgs[0])
	assert.Equal(t, protocol.Envelope{Type: protocol.MsgPeerList, Peers: []string{idA}}, msgs[1])

	msgs = a.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.Envelope{Type: protocol.MsgNewPeer, ID: idB}, msgs[0])
}

func TestRouterCapacityRefusal(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 1, 50)
	a, _ := connect(t, r, "a")

	b := newFakeConn("b")
	_, err := r.Connect(b)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, code, _ := b.state()
	assert.Equal(t, CloseCapacityExceeded, code)
	assert.Empty(t, b.messages(t))
	assert.Empty(t, a.messages(t), "existing peers must not hear about a refused connection")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.AdmissionsRejected.WithLabelValues("capacity")))
}

func TestRouterPingPong(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_700_000_000_123))
	r := newTestRouter(mock, 0, 50)
	a, idA := connect(t, r, "a")
	b, _ := connect(t, r, "b")
	a.messages(t)

	require.NoError(t, r.Handle(a, idA, []byte(`{"type":"ping"}`)))

	msgs := a.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.MsgPong, msgs[0].Type)
	assert.Equal(t, int64(1_700_000_000_123), msgs[0].Timestamp)
	assert.Empty(t, b.messages(t))
}

func TestRouterForwardStampsSender(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)
	a, idA := connect(t, r, "a")
	b, idB := connect(t, r, "b")
	a.messages(t)

	frame := `{"type":"offer","target":"` + idB + `","sender":"los-spoofed","offer":{"type":"offer","sdp":"v=0"}}`
	require.NoError(t, r.Handle(a, idA, []byte(frame)))

	got := b.raw(t)
	require.Len(t, got, 1)
	assert.Equal(t, "offer", got[0]["type"])
	assert.Equal(t, idA, got[0]["sender"])
	assert.Equal(t, idB, got[0]["target"])
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "v=0"}, got[0]["offer"])
	assert.Empty(t, a.messages(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.MessagesForwarded))
}

func TestRouterForwardDrops(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)
	a, idA := connect(t, r, "a")
	b, _ := connect(t, r, "b")
	a.messages(t)

	tests := []struct {
		name  string
		frame string
		err   error
	}{
		{"self target", `{"type":"offer","target":"` + idA + `"}`, ErrMalformedMessage},
		{"unknown target", `{"type":"answer","target":"los-nobody00"}`, ErrNotFound},
		{"no target", `{"type":"candidate"}`, ErrMalformedMessage},
		{"numeric target", `{"type":"candidate","target":42}`, ErrMalformedMessage},
		{"not json", `hello`, ErrMalformedMessage},
		{"array", `[1,2]`, ErrMalformedMessage},
		{"numeric type", `{"type":7}`, ErrMalformedMessage},
		{"long type", `{"type":"` + strings.Repeat("x", protocol.MaxTypeLength+1) + `"}`, ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Handle(a, idA, []byte(tt.frame))
			assert.ErrorIs(t, err, tt.err)
			assert.Empty(t, a.messages(t))
			assert.Empty(t, b.messages(t))
		})
	}
}

func TestRouterAcceptsMaxLengthType(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)
	a, idA := connect(t, r, "a")
	b, idB := connect(t, r, "b")
	a.messages(t)

	msgType := strings.Repeat("x", protocol.MaxTypeLength)
	require.NoError(t, r.Handle(a, idA, []byte(`{"type":"`+msgType+`","target":"`+idB+`"}`)))
	assert.Len(t, b.raw(t), 1)
}

func TestRouterRateLimit(t *testing.T) {
	mock := clock.NewMock()
	r := newTestRouter(mock, 0, 2)
	a, idA := connect(t, r, "a")
	b, idB := connect(t, r, "b")
	a.messages(t)

	frame := []byte(`{"type":"candidate","target":"` + idB + `","candidate":{"candidate":"c"}}`)
	require.NoError(t, r.Handle(a, idA, frame))
	require.NoError(t, r.Handle(a, idA, frame))

	assert.ErrorIs(t, r.Handle(a, idA, frame), ErrRateLimitExceeded)
	assert.ErrorIs(t, r.Handle(a, idA, frame), ErrRateLimitExceeded)

	msgs := a.messages(t)
	require.Len(t, msgs, 1, "exactly one error per window")
	assert.Equal(t, protocol.Envelope{Type: protocol.MsgError, Message: protocol.ErrTextRateLimited}, msgs[0])
	assert.Len(t, b.raw(t), 2)

	mock.Add(defaultWindow)
	require.NoError(t, r.Handle(a, idA, frame))
	assert.Len(t, b.raw(t), 1)
}

func TestRouterRateLimitCountsControlMessages(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 1)
	a, idA := connect(t, r, "a")

	require.NoError(t, r.Handle(a, idA, []byte(`{"type":"ping"}`)))
	assert.ErrorIs(t, r.Handle(a, idA, []byte(`{"type":"ping"}`)), ErrRateLimitExceeded)
}

func TestRouterDeviceInfo(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)
	a, idA := connect(t, r, "a")
	b, _ := connect(t, r, "b")
	a.messages(t)

	name := "\x07" + strings.Repeat("n", protocol.MaxDeviceNameLength+20)
	frame := `{"type":"device-info","deviceInfo":{"deviceName":"` + strings.ReplaceAll(name, "\x07", `\u0007`) + `","icon":"💻","deviceType":"laptop"}}`
	require.NoError(t, r.Handle(a, idA, []byte(frame)))

	assert.Empty(t, a.messages(t), "device info is not echoed to its sender")

	msgs := b.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.MsgPeerDeviceInfo, msgs[0].Type)
	assert.Equal(t, idA, msgs[0].PeerID)
	require.NotNil(t, msgs[0].DeviceInfo)
	assert.Equal(t, strings.Repeat("n", protocol.MaxDeviceNameLength), msgs[0].DeviceInfo.DeviceName)
	assert.Equal(t, "laptop", msgs[0].DeviceInfo.DeviceType)

	// Late joiners get the stored roster entry.
	c := newFakeConn("c")
	_, err := r.Connect(c)
	require.NoError(t, err)

	msgs = c.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.MsgPeerList, msgs[1].Type)
	assert.Equal(t, protocol.MsgPeerDeviceInfo, msgs[2].Type)
	assert.Equal(t, idA, msgs[2].PeerID)
}

func TestRouterDeviceInfoMissingPayload(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)
	a, idA := connect(t, r, "a")

	assert.ErrorIs(t, r.Handle(a, idA, []byte(`{"type":"device-info"}`)), ErrMalformedMessage)
}

func TestRouterCloseIsIdempotent(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)
	a, idA := connect(t, r, "a")
	b, _ := connect(t, r, "b")
	a.messages(t)

	assert.True(t, r.Close(a))
	assert.False(t, r.Close(a))

	msgs := b.messages(t)
	require.Len(t, msgs, 1, "departure is announced exactly once")
	assert.Equal(t, protocol.Envelope{Type: protocol.MsgPeerDisconnect, ID: idA}, msgs[0])

	_, err := r.Registry().Lookup(idA)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRouterForwardAfterDeparture(t *testing.T) {
	r := newTestRouter(clock.NewMock(), 0, 50)
	a, idA := connect(t, r, "a")
	b, idB := connect(t, r, "b")
	a.messages(t)

	r.Close(b)
	a.messages(t)

	err := r.Handle(a, idA, []byte(`{"type":"offer","target":"`+idB+`"}`))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, b.raw(t))
}
