package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry(t *testing.T) {
	r := NewConnectionRegistry(8)

	c1 := r.Register(testIdentity("u1"), nil)
	c2 := r.Register(testIdentity("u1"), nil)
	c3 := r.Register(testIdentity("u2"), nil)

	assert.NotEqual(t, c1.ID, c2.ID)
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 2, r.UserCount())
	assert.Equal(t, 2, r.UserConnectionCount("u1"))
	assert.Equal(t, 8, cap(c1.send))

	require.True(t, r.addRoom(c1.ID, "b"))
	require.True(t, r.addRoom(c1.ID, "a"))
	assert.False(t, r.addRoom("missing", "a"))
	assert.Equal(t, []string{"a", "b"}, r.RoomsOf(c1.ID))
	assert.True(t, r.InRoom(c1.ID, "a"))
	assert.False(t, r.InRoom(c3.ID, "a"))

	assert.True(t, r.removeRoom(c1.ID, "b"))
	assert.False(t, r.removeRoom(c1.ID, "b"))

	conn, rooms, remaining, ok := r.Remove(c1.ID)
	require.True(t, ok)
	assert.Same(t, c1, conn)
	assert.Equal(t, []string{"a"}, rooms)
	assert.Equal(t, 1, remaining)

	_, _, _, ok = r.Remove(c1.ID)
	assert.False(t, ok)

	_, _, remaining, _ = r.Remove(c2.ID)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 1, r.UserCount())
	assert.Nil(t, r.RoomsOf(c1.ID))
}

func TestConnectionRegistry_Touch(t *testing.T) {
	r := NewConnectionRegistry(0)
	later := time.Now().Add(time.Hour)
	r.now = func() time.Time { return later }

	c := r.Register(testIdentity("u1"), nil)
	assert.True(t, r.Touch(c.ID))
	assert.Equal(t, later.UnixNano(), c.LastActivity().UnixNano())
	assert.False(t, r.Touch("missing"))
}

func TestConnection_QueueSemantics(t *testing.T) {
	c := newConnection("c1", testIdentity("u1"), nil, 2, time.Now())

	assert.True(t, c.enqueue([]byte("1")))
	assert.True(t, c.enqueue([]byte("2")))
	assert.False(t, c.enqueue([]byte("3")), "full queue never blocks")

	c.markFailed()
	c.markFailed()
	assert.True(t, c.Failed())

	c.closeSend(1001)
	c.closeSend(1000)
	assert.True(t, c.Closed())
	assert.Equal(t, 1001, c.getCloseCode(), "first close wins")
	assert.False(t, c.enqueue([]byte("4")), "send after close is refused, not a panic")
}

func TestRoomDirectory(t *testing.T) {
	d := NewRoomDirectory()

	assert.True(t, d.Join("r", "c1"))
	assert.False(t, d.Join("r", "c2"))
	assert.False(t, d.Join("r", "c2"))
	assert.Equal(t, 2, d.MemberCount("r"))
	assert.Equal(t, []string{"c1", "c2"}, d.Members("r"))

	members := d.Members("r")
	members[0] = "mutated"
	assert.Equal(t, []string{"c1", "c2"}, d.Members("r"), "members is a copy")

	assert.False(t, d.Leave("r", "c1"))
	assert.False(t, d.Leave("nope", "c1"))
	assert.True(t, d.Leave("r", "c2"))
	assert.False(t, d.Has("r"))
	assert.Equal(t, 0, d.Count())
	assert.Empty(t, d.Members("r"))
}

func TestPresenceTracker(t *testing.T) {
	persister := &recordingPersister{}
	p := NewPresenceTracker(persister)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	element := "node-1"
	rec := p.SetStatus("u1", PresenceOnline, &element)
	assert.Equal(t, PresenceOnline, rec.Status)
	assert.Equal(t, base, rec.LastSeen)
	require.NotNil(t, rec.CurrentElement)

	element = "changed"
	got, _ := p.Get("u1")
	assert.Equal(t, "node-1", *got.CurrentElement, "tracker keeps its own copy")

	rec = p.SetStatus("u1", PresenceAway, nil)
	require.NotNil(t, rec.CurrentElement, "nil element keeps the previous one")
	assert.Equal(t, "node-1", *rec.CurrentElement)

	p.now = func() time.Time { return base.Add(time.Minute) }
	rec, ok := p.Touch("u1")
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), rec.LastSeen)
	assert.Equal(t, PresenceAway, rec.Status)
	_, ok = p.Touch("ghost")
	assert.False(t, ok)

	rec = p.SetStatus("u1", PresenceOffline, nil)
	assert.Nil(t, rec.CurrentElement, "offline clears the element")

	p.SetStatus("u2", PresenceOnline, nil)
	assert.Equal(t, 1, p.CountByStatus(PresenceOnline))
	assert.Equal(t, 1, p.CountByStatus(PresenceOffline))

	all := p.All()
	require.Len(t, all, 2)
	assert.Equal(t, "u1", all[0].UserID)

	persister.mu.Lock()
	assert.Len(t, persister.presence, 5)
	persister.mu.Unlock()
}

func TestParsePresenceStatus(t *testing.T) {
	for input, want := range map[string]PresenceStatus{
		"online":  PresenceOnline,
		"AWAY":    PresenceAway,
		"Offline": PresenceOffline,
	} {
		got, ok := ParsePresenceStatus(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got)
	}
	_, ok := ParsePresenceStatus("busy")
	assert.False(t, ok)
	_, ok = ParsePresenceStatus("")
	assert.False(t, ok)
}
