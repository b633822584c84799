package api

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ericfitz/collabd/api/models"
	"github.com/ericfitz/collabd/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPersister captures fire-and-forget writes
type recordingPersister struct {
	mu       sync.Mutex
	presence []PresenceRecord
	edits    []*models.EditOperation
}

func (p *recordingPersister) EnqueuePresence(record PresenceRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presence = append(p.presence, record)
}

func (p *recordingPersister) EnqueueEditOperation(op *models.EditOperation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, op)
}

func (p *recordingPersister) editOps() []*models.EditOperation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.EditOperation(nil), p.edits...)
}

func (p *recordingPersister) lastPresence(userID string) (PresenceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.presence) - 1; i >= 0; i-- {
		if p.presence[i].UserID == userID {
			return p.presence[i], true
		}
	}
	return PresenceRecord{}, false
}

func newTestHub(t *testing.T) (*Hub, *recordingPersister) {
	t.Helper()
	persister := &recordingPersister{}
	return NewHub(DefaultHubConfig(), persister, nil), persister
}

func testIdentity(userID string) auth.Identity {
	return auth.Identity{ID: userID, Email: userID + "@example.com", Role: "authenticated"}
}

func registerTest(t *testing.T, hub *Hub, userID string) *Connection {
	t.Helper()
	conn, err := hub.Register(t.Context(), testIdentity(userID), nil)
	require.NoError(t, err)
	return conn
}

// drain returns every frame queued for conn without blocking
func drain(t *testing.T, conn *Connection) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return out
			}
			var msg map[string]any
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func ofType(msgs []map[string]any, msgType string) []map[string]any {
	var out []map[string]any
	for _, m := range msgs {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func senderID(msg map[string]any) string {
	user, _ := msg["user"].(map[string]any)
	id, _ := user["id"].(string)
	return id
}

// assertConsistent checks that registry and room membership agree and that
// no room is empty
func assertConsistent(t *testing.T, hub *Hub) {
	t.Helper()
	for _, conn := range hub.registry.Snapshot() {
		for _, roomID := range hub.registry.RoomsOf(conn.ID) {
			assert.Contains(t, hub.rooms.Members(roomID), conn.ID, "room %s is missing member %s", roomID, conn.ID)
		}
	}
	for _, roomID := range hub.rooms.Rooms() {
		members := hub.rooms.Members(roomID)
		assert.NotEmpty(t, members, "room %s exists with no members", roomID)
		for _, id := range members {
			assert.True(t, hub.registry.InRoom(id, roomID), "member %s of %s does not list the room", id, roomID)
		}
	}
}

// =============================================================================
// Membership Tests
// =============================================================================

func TestHub_JoinAndLeave(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	u1 := registerTest(t, hub, "u1")
	u2 := registerTest(t, hub, "u2")

	require.NoError(t, hub.JoinRoom(ctx, u1, "study:42"))
	require.NoError(t, hub.JoinRoom(ctx, u2, "study:42"))

	u1Msgs := drain(t, u1)
	joined := ofType(u1Msgs, MessageTypeUserJoinedRoom)
	require.Len(t, joined, 1)
	assert.Equal(t, "u2", senderID(joined[0]))
	assert.Equal(t, u2.ID, joined[0]["clientId"])

	state := ofType(drain(t, u2), MessageTypeRoomState)
	require.Len(t, state, 1)
	members := state[0]["members"].([]any)
	clientIDs := make([]string, 0, len(members))
	for _, m := range members {
		clientIDs = append(clientIDs, m.(map[string]any)["clientId"].(string))
	}
	assert.ElementsMatch(t, []string{u1.ID, u2.ID}, clientIDs)

	assert.True(t, hub.LeaveRoom(ctx, u2, "study:42"))
	left := ofType(drain(t, u1), MessageTypeUserLeftRoom)
	require.Len(t, left, 1)
	assert.Equal(t, "u2", senderID(left[0]))

	assert.False(t, hub.LeaveRoom(ctx, u2, "study:42"), "second leave is a no-op")
	assert.True(t, hub.LeaveRoom(ctx, u1, "study:42"))
	assert.False(t, hub.rooms.Has("study:42"), "empty room must be deleted")
	assertConsistent(t, hub)
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	u1 := registerTest(t, hub, "u1")
	u2 := registerTest(t, hub, "u2")
	require.NoError(t, hub.JoinRoom(ctx, u2, "r"))
	require.NoError(t, hub.JoinRoom(ctx, u1, "r"))
	drain(t, u2)

	require.NoError(t, hub.JoinRoom(ctx, u1, "r"))

	assert.Equal(t, 2, hub.rooms.MemberCount("r"))
	assert.Equal(t, []string{"r"}, hub.registry.RoomsOf(u1.ID))
	assert.Empty(t, ofType(drain(t, u2), MessageTypeUserJoinedRoom), "rejoin must not be announced again")
	assertConsistent(t, hub)
}

func TestHub_JoinUnknownConnection(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := registerTest(t, hub, "u1")
	require.True(t, hub.Disconnect(t.Context(), conn.ID, "test"))

	assert.ErrorIs(t, hub.JoinRoom(t.Context(), conn, "r"), ErrConnectionNotFound)
	assert.False(t, hub.rooms.Has("r"))
}

// =============================================================================
// Disconnect Tests
// =============================================================================

func TestHub_DisconnectLeavesEveryRoom(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	u1 := registerTest(t, hub, "u1")
	u2 := registerTest(t, hub, "u2")
	require.NoError(t, hub.JoinRoom(ctx, u1, "study:42"))
	require.NoError(t, hub.JoinRoom(ctx, u1, "study:43"))
	require.NoError(t, hub.JoinRoom(ctx, u2, "study:42"))
	drain(t, u2)

	require.True(t, hub.Disconnect(ctx, u1.ID, "transport closed"))

	left := ofType(drain(t, u2), MessageTypeUserLeftRoom)
	require.Len(t, left, 1)
	assert.Equal(t, "study:42", left[0]["roomId"])
	assert.Equal(t, "u1", senderID(left[0]))

	assert.False(t, hub.rooms.Has("study:43"))
	assert.Equal(t, []string{u2.ID}, hub.rooms.Members("study:42"))
	assert.True(t, u1.Closed())

	assert.False(t, hub.Disconnect(ctx, u1.ID, "again"), "disconnect is idempotent")
	assertConsistent(t, hub)
}

func TestHub_PresenceWithMultipleConnections(t *testing.T) {
	hub, persister := newTestHub(t)
	ctx := t.Context()

	tab1 := registerTest(t, hub, "u1")
	tab2 := registerTest(t, hub, "u1")
	assert.Equal(t, 2, hub.registry.UserConnectionCount("u1"))

	record, ok := hub.presence.Get("u1")
	require.True(t, ok)
	assert.Equal(t, PresenceOnline, record.Status)

	hub.Disconnect(ctx, tab1.ID, "tab closed")
	record, _ = hub.presence.Get("u1")
	assert.Equal(t, PresenceOnline, record.Status, "user with a remaining connection stays online")

	hub.Disconnect(ctx, tab2.ID, "tab closed")
	record, _ = hub.presence.Get("u1")
	assert.Equal(t, PresenceOffline, record.Status)

	persisted, ok := persister.lastPresence("u1")
	require.True(t, ok)
	assert.Equal(t, PresenceOffline, persisted.Status)
	assert.Len(t, hub.presence.All(), 1, "one presence record per user")
}

func TestHub_SetPresence(t *testing.T) {
	hub, persister := newTestHub(t)
	conn := registerTest(t, hub, "u1")

	element := "cell-3"
	record, err := hub.SetPresence(conn, PresenceAway, &element)
	require.NoError(t, err)
	assert.Equal(t, PresenceAway, record.Status)

	hub.Disconnect(t.Context(), conn.ID, "closed")
	_, err = hub.SetPresence(conn, PresenceOnline, nil)
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	record, _ = hub.presence.Get("u1")
	assert.Equal(t, PresenceOffline, record.Status)
	persisted, _ := persister.lastPresence("u1")
	assert.Equal(t, PresenceOffline, persisted.Status)
}

func TestHub_PresenceUpdateRacingDisconnect(t *testing.T) {
	hub, persister := newTestHub(t)
	ctx := t.Context()

	for i := range 50 {
		userID := fmt.Sprintf("u%d", i)
		conn := registerTest(t, hub, userID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.router.Route(ctx, hub, conn, []byte(`{"type":"presence_update","status":"away"}`))
		}()
		go func() {
			defer wg.Done()
			hub.Disconnect(ctx, conn.ID, "reaped")
		}()
		wg.Wait()

		record, _ := hub.presence.Get(userID)
		assert.Equal(t, PresenceOffline, record.Status, "user %s", userID)
		persisted, _ := persister.lastPresence(userID)
		assert.Equal(t, PresenceOffline, persisted.Status, "user %s", userID)
	}
}

func TestHub_ConcurrentConnectDisconnectSameUser(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	keeper := registerTest(t, hub, "u1")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := hub.Register(ctx, testIdentity("u1"), nil)
			if err != nil {
				return
			}
			_ = hub.JoinRoom(ctx, conn, "shared")
			hub.Disconnect(ctx, conn.ID, "churn")
		}()
	}
	wg.Wait()

	record, _ := hub.presence.Get("u1")
	assert.Equal(t, PresenceOnline, record.Status)
	assert.Equal(t, 1, hub.registry.UserConnectionCount("u1"))
	assert.Equal(t, keeper.ID, hub.registry.Snapshot()[0].ID)
	assert.False(t, hub.rooms.Has("shared"))
}

// =============================================================================
// Property Tests
// =============================================================================

func TestHub_RandomOperationsKeepMembershipConsistent(t *testing.T) {
	rooms := []string{"study:1", "study:2", "workspace:w", "doc:9"}

	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			hub, _ := newTestHub(t)
			ctx := t.Context()
			rng := rand.New(rand.NewPCG(seed, seed*31))

			var conns []*Connection
			for i := range 4 {
				conns = append(conns, registerTest(t, hub, fmt.Sprintf("u%d", i%3)))
			}

			for range 300 {
				switch op := rng.IntN(10); {
				case op < 4 && len(conns) > 0:
					conn := conns[rng.IntN(len(conns))]
					_ = hub.JoinRoom(ctx, conn, rooms[rng.IntN(len(rooms))])
				case op < 7 && len(conns) > 0:
					conn := conns[rng.IntN(len(conns))]
					hub.LeaveRoom(ctx, conn, rooms[rng.IntN(len(rooms))])
				case op < 8 && len(conns) > 0:
					i := rng.IntN(len(conns))
					hub.Disconnect(ctx, conns[i].ID, "random")
					conns = append(conns[:i], conns[i+1:]...)
				default:
					conns = append(conns, registerTest(t, hub, fmt.Sprintf("u%d", rng.IntN(3))))
				}
				for _, conn := range conns {
					drain(t, conn)
				}
			}

			assertConsistent(t, hub)
			for _, userID := range []string{"u0", "u1", "u2"} {
				record, ok := hub.presence.Get(userID)
				if !ok {
					continue
				}
				online := hub.registry.UserConnectionCount(userID) > 0
				assert.Equal(t, online, record.Status == PresenceOnline, "presence of %s", userID)
			}
		})
	}
}

func TestHub_ConcurrentJoinLeave(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	conns := make([]*Connection, 8)
	for i := range conns {
		conns[i] = registerTest(t, hub, fmt.Sprintf("u%d", i))
	}

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(i), 7))
			for range 200 {
				room := fmt.Sprintf("room-%d", rng.IntN(3))
				if rng.IntN(2) == 0 {
					_ = hub.JoinRoom(ctx, conn, room)
				} else {
					hub.LeaveRoom(ctx, conn, room)
				}
			}
		}()
	}
	wg.Wait()

	assertConsistent(t, hub)
}

// =============================================================================
// Broadcast Tests
// =============================================================================

func TestHub_BroadcastExcludesSender(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	sender := registerTest(t, hub, "alice")
	var others []*Connection
	for _, id := range []string{"bob", "carol", "dave"} {
		others = append(others, registerTest(t, hub, id))
	}
	for _, c := range append([]*Connection{sender}, others...) {
		require.NoError(t, hub.JoinRoom(ctx, c, "R"))
	}
	for _, c := range append([]*Connection{sender}, others...) {
		drain(t, c)
	}

	hub.router.Route(ctx, hub, sender, []byte(`{"type":"cursor_update","roomId":"R","position":{"x":10,"y":20}}`))

	assert.Empty(t, drain(t, sender))
	for _, c := range others {
		msgs := drain(t, c)
		require.Len(t, msgs, 1, "recipient %s", c.UserID())
		assert.Equal(t, MessageTypeCursorUpdate, msgs[0]["type"])
		assert.Equal(t, "alice", senderID(msgs[0]))
		assert.Equal(t, map[string]any{"x": float64(10), "y": float64(20)}, msgs[0]["position"])
	}
}

func TestHub_SlowConsumerDoesNotStallOthers(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.SendBufferSize = 4
	hub := NewHub(cfg, nil, nil)
	ctx := t.Context()

	sender := registerTest(t, hub, "sender")
	slow := registerTest(t, hub, "slow")
	fast := registerTest(t, hub, "fast")
	for _, c := range []*Connection{sender, slow, fast} {
		require.NoError(t, hub.JoinRoom(ctx, c, "R"))
	}
	drain(t, fast)

	received := 0
	start := time.Now()
	for i := range 50 {
		delivered, _ := hub.Broadcast(ctx, "R", "tick", map[string]any{"type": "tick", "n": i}, sender.ID)
		assert.GreaterOrEqual(t, delivered, 1)
		received += len(drain(t, fast))
	}

	assert.Equal(t, 50, received, "responsive member receives every message")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, slow.Failed(), "overflowing member is marked failed")

	assert.Equal(t, 1, hub.Sweep(ctx))
	_, stillThere := hub.registry.Get(slow.ID)
	assert.False(t, stillThere)
	assertConsistent(t, hub)
}

func TestHub_PerRecipientOrder(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	a := registerTest(t, hub, "a")
	b := registerTest(t, hub, "b")
	require.NoError(t, hub.JoinRoom(ctx, a, "R"))
	require.NoError(t, hub.JoinRoom(ctx, b, "R"))
	drain(t, b)

	for i := range 100 {
		hub.Broadcast(ctx, "R", "seq", map[string]any{"type": "seq", "n": i}, a.ID)
	}
	msgs := drain(t, b)
	require.Len(t, msgs, 100)
	for i, m := range msgs {
		assert.Equal(t, float64(i), m["n"])
	}
}

// =============================================================================
// Sweep And Shutdown Tests
// =============================================================================

func TestHub_SweepEvictsInactiveConnections(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := t.Context()

	stale := registerTest(t, hub, "stale")
	active := registerTest(t, hub, "active")
	require.NoError(t, hub.JoinRoom(ctx, stale, "R"))
	require.NoError(t, hub.JoinRoom(ctx, active, "R"))
	drain(t, active)

	now := time.Now()
	hub.now = func() time.Time { return now.Add(6 * time.Minute) }
	active.Touch(now.Add(6 * time.Minute))

	assert.Equal(t, 1, hub.Sweep(ctx))
	left := ofType(drain(t, active), MessageTypeUserLeftRoom)
	require.Len(t, left, 1)
	assert.Equal(t, "stale", senderID(left[0]))

	record, _ := hub.presence.Get("stale")
	assert.Equal(t, PresenceOffline, record.Status)
	assert.Equal(t, 0, hub.Sweep(ctx))
}

func TestHub_ShutdownRefusesNewConnections(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := registerTest(t, hub, "u1")
	require.NoError(t, hub.JoinRoom(t.Context(), conn, "R"))

	require.NoError(t, hub.Shutdown(t.Context()))

	assert.Equal(t, 0, hub.registry.Count())
	assert.Equal(t, 0, hub.rooms.Count())
	assert.True(t, conn.Closed())
	assert.Equal(t, 1001, conn.getCloseCode())

	_, err := hub.Register(t.Context(), testIdentity("u2"), nil)
	assert.ErrorIs(t, err, ErrHubClosed)
}
