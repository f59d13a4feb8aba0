package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/pkg/models"
)

type fakeWire struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeWire) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("wire closed")
	}
	if mt != websocket.TextMessage {
		return nil
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeWire) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeWire) SetWriteDeadline(time.Time) error          { return nil }

func (f *fakeWire) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeWire) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeWire) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func (f *fakeWire) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testEvent(t *testing.T, typ string) models.Event {
	t.Helper()
	ev, err := models.NewEvent(typ, map[string]string{"k": "v"})
	require.NoError(t, err)
	return ev
}

func attachConn(t *testing.T, h *Hub, userID, role string) (*Conn, *fakeWire) {
	t.Helper()
	fw := &fakeWire{}
	c := newConn(models.Identity{ID: userID, Name: userID, Role: role}, fw, 16, 8)
	h.Attach(c)
	return c, fw
}

func TestPayloadRefCounting(t *testing.T) {
	p, err := MarshalPayload(testEvent(t, "x"))
	require.NoError(t, err)
	require.Equal(t, int32(1), p.refs.Load())

	var ev models.Event
	require.NoError(t, json.Unmarshal(p.Bytes(), &ev))
	assert.Equal(t, "x", ev.Type)

	p.Retain()
	assert.Equal(t, int32(2), p.refs.Load())

	p.Release()
	assert.NotNil(t, p.buf, "buffer must survive until the last release")
	p.Release()
	assert.Nil(t, p.buf)
}

func TestConnWritesQueuedFrames(t *testing.T) {
	fw := &fakeWire{}
	c := newConn(models.Identity{ID: "u1"}, fw, 16, 8)
	c.Start()
	defer c.Close(websocket.CloseNormalClosure, "done")

	p, err := MarshalPayload(testEvent(t, "new_message"))
	require.NoError(t, err)
	require.True(t, c.Enqueue(p))

	require.Eventually(t, func() bool { return fw.frameCount() == 1 }, time.Second, 5*time.Millisecond)

	var ev models.Event
	require.NoError(t, json.Unmarshal(fw.lastFrame(), &ev))
	assert.Equal(t, "new_message", ev.Type)
}

func TestConnShedsOldestWhenFull(t *testing.T) {
	// no write loop: the queue only drains through shedding
	c := newConn(models.Identity{ID: "u1"}, &fakeWire{}, 2, 8)

	for i := 0; i < 3; i++ {
		p, err := MarshalPayload(testEvent(t, "new_message"))
		require.NoError(t, err)
		require.True(t, c.Enqueue(p))
	}

	assert.Equal(t, 1, c.dropped)
	assert.Equal(t, 2, len(c.send))
}

func TestConnDisconnectsAfterTooManyDrops(t *testing.T) {
	fw := &fakeWire{}
	c := newConn(models.Identity{ID: "u1"}, fw, 1, 1)

	results := make([]bool, 0, 3)
	for i := 0; i < 3; i++ {
		p, err := MarshalPayload(testEvent(t, "new_message"))
		require.NoError(t, err)
		results = append(results, c.Enqueue(p))
	}

	assert.Equal(t, []bool{true, true, false}, results)
	assert.True(t, fw.isClosed())

	// enqueues after teardown are refused
	p, err := MarshalPayload(testEvent(t, "new_message"))
	require.NoError(t, err)
	assert.False(t, c.Enqueue(p))
}

func TestBroadcastSkipsExcludedUserAcrossDevices(t *testing.T) {
	h := NewHub()
	c1a, fw1a := attachConn(t, h, "u1", models.RoleCustomer)
	c1b, fw1b := attachConn(t, h, "u1", models.RoleCustomer)
	c2, fw2 := attachConn(t, h, "u2", models.RoleAgent)
	defer h.Drain()

	require.True(t, h.Join("s1", c1a.ID))
	require.True(t, h.Join("s1", c1b.ID))
	require.True(t, h.Join("s1", c2.ID))

	delivered := h.Broadcast("s1", testEvent(t, "user_typing"), "u1")
	assert.Equal(t, 1, delivered)

	require.Eventually(t, func() bool { return fw2.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fw1a.frameCount())
	assert.Equal(t, 0, fw1b.frameCount())
}

func TestBroadcastReachesEveryDevice(t *testing.T) {
	h := NewHub()
	c1a, fw1a := attachConn(t, h, "u1", models.RoleCustomer)
	c1b, fw1b := attachConn(t, h, "u1", models.RoleCustomer)
	defer h.Drain()

	require.True(t, h.Join("s1", c1a.ID))
	require.True(t, h.Join("s1", c1b.ID))

	delivered := h.Broadcast("s1", testEvent(t, "new_message"), "")
	assert.Equal(t, 2, delivered)

	require.Eventually(t, func() bool {
		return fw1a.frameCount() == 1 && fw1b.frameCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifyConnTargetsOneDevice(t *testing.T) {
	h := NewHub()
	c1a, fw1a := attachConn(t, h, "u1", models.RoleCustomer)
	_, fw1b := attachConn(t, h, "u1", models.RoleCustomer)
	defer h.Drain()

	require.True(t, h.NotifyConn(c1a.ID, testEvent(t, "session_joined")))
	require.Eventually(t, func() bool { return fw1a.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fw1b.frameCount())

	assert.False(t, h.NotifyConn("no-such-conn", testEvent(t, "session_joined")))
}

func TestDetachRemovesFromRooms(t *testing.T) {
	h := NewHub()
	c1, _ := attachConn(t, h, "u1", models.RoleCustomer)
	defer h.Drain()

	require.True(t, h.Join("s1", c1.ID))
	h.Detach(c1)

	assert.Equal(t, 0, h.Broadcast("s1", testEvent(t, "new_message"), ""))
	conns, users, rooms := h.Stats()
	assert.Equal(t, 0, conns)
	assert.Equal(t, 0, users)
	assert.Equal(t, 0, rooms)

	// second detach is a no-op
	h.Detach(c1)
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := NewHub()
	c1, fw1 := attachConn(t, h, "u1", models.RoleCustomer)
	c2, fw2 := attachConn(t, h, "u2", models.RoleAgent)
	defer h.Drain()

	require.True(t, h.Join("s1", c1.ID))
	require.True(t, h.Join("s1", c2.ID))
	h.Leave("s1", c1.ID)

	delivered := h.Broadcast("s1", testEvent(t, "new_message"), "")
	assert.Equal(t, 1, delivered)
	require.Eventually(t, func() bool { return fw2.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fw1.frameCount())
}

func TestDrainClosesEverything(t *testing.T) {
	h := NewHub()
	_, fw1 := attachConn(t, h, "u1", models.RoleCustomer)
	_, fw2 := attachConn(t, h, "u2", models.RoleAgent)

	h.Drain()

	assert.True(t, fw1.isClosed())
	assert.True(t, fw2.isClosed())
	conns, users, rooms := h.Stats()
	assert.Equal(t, 0, conns+users+rooms)
}
