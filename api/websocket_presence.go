package api

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// PresenceStatus is a user's live availability
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// ParsePresenceStatus validates a client-supplied status
func ParsePresenceStatus(s string) (PresenceStatus, bool) {
	switch status := PresenceStatus(strings.ToLower(s)); status {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return status, true
	default:
		return "", false
	}
}

// PresenceRecord is the last known presence of one user
type PresenceRecord struct {
	UserID         string         `json:"userId"`
	Status         PresenceStatus `json:"status"`
	LastSeen       time.Time      `json:"lastSeen"`
	CurrentElement *string        `json:"currentElement,omitempty"`
}

// PresenceTracker keeps one record per user who has ever connected. Every
// change is mirrored to the persister without waiting for it.
type PresenceTracker struct {
	mu        sync.RWMutex
	records   map[string]*PresenceRecord
	persister Persister
	now       func() time.Time
}

// NewPresenceTracker creates a tracker; persister may be nil
func NewPresenceTracker(persister Persister) *PresenceTracker {
	return &PresenceTracker{
		records:   make(map[string]*PresenceRecord),
		persister: persister,
		now:       time.Now,
	}
}

// SetStatus records a status change. A nil currentElement keeps the previous
// element; going offline clears it.
func (p *PresenceTracker) SetStatus(userID string, status PresenceStatus, currentElement *string) PresenceRecord {
	p.mu.Lock()
	record, ok := p.records[userID]
	if !ok {
		record = &PresenceRecord{UserID: userID}
		p.records[userID] = record
	}
	record.Status = status
	record.LastSeen = p.now().UTC()
	switch {
	case status == PresenceOffline:
		record.CurrentElement = nil
	case currentElement != nil:
		element := *currentElement
		record.CurrentElement = &element
	}
	snapshot := record.copy()
	p.mu.Unlock()

	p.persist(snapshot)
	return snapshot
}

// Touch refreshes LastSeen for a known user
func (p *PresenceTracker) Touch(userID string) (PresenceRecord, bool) {
	p.mu.Lock()
	record, ok := p.records[userID]
	if !ok {
		p.mu.Unlock()
		return PresenceRecord{}, false
	}
	record.LastSeen = p.now().UTC()
	snapshot := record.copy()
	p.mu.Unlock()

	p.persist(snapshot)
	return snapshot, true
}

// Get returns a copy of the record for userID
func (p *PresenceTracker) Get(userID string) (PresenceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.records[userID]
	if !ok {
		return PresenceRecord{}, false
	}
	return record.copy(), true
}

// All returns copies of every record ordered by user ID
func (p *PresenceTracker) All() []PresenceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PresenceRecord, 0, len(p.records))
	for _, record := range p.records {
		out = append(out, record.copy())
	}
	slices.SortFunc(out, func(a, b PresenceRecord) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// CountByStatus returns how many users are in status
func (p *PresenceTracker) CountByStatus(status PresenceStatus) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, record := range p.records {
		if record.Status == status {
			n++
		}
	}
	return n
}

func (p *PresenceTracker) persist(record PresenceRecord) {
	if p.persister != nil {
		p.persister.EnqueuePresence(record)
	}
}

func (r *PresenceRecord) copy() PresenceRecord {
	out := *r
	if r.CurrentElement != nil {
		element := *r.CurrentElement
		out.CurrentElement = &element
	}
	return out
}
