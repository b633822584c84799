package api

import (
	"context"
	"time"

	"github.com/ericfitz/collabd/internal/slogging"
)

// Reaper periodically evicts stale and failed connections from a hub
type Reaper struct {
	baseWorker
	hub *Hub
}

// NewReaper creates a reaper sweeping hub every interval
func NewReaper(hub *Hub, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r := &Reaper{hub: hub}
	r.baseWorker = newBaseWorker("connection reaper", interval, false, r.sweep)
	return r
}

func (r *Reaper) sweep(ctx context.Context) error {
	evicted := r.hub.Sweep(ctx)
	if evicted > 0 {
		stats := r.hub.Stats()
		slogging.Get().Info("Reaped %d connections (remaining connections=%d, rooms=%d)",
			evicted, stats.Connections, stats.Rooms)
	}
	return nil
}
