package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutboxEntry is a slate the client is still trying to deliver.
type OutboxEntry struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Queued    time.Time `json:"queued"`
}

// Outbox tracks in-flight posts. Entries leave it when the hub accepts the
// slate or the caller gives up.
type Outbox struct {
	mu      sync.Mutex
	entries map[string]*OutboxEntry
}

// NewOutbox returns an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{entries: make(map[string]*OutboxEntry)}
}

func (o *Outbox) add(to string, now time.Time) string {
	id := uuid.NewString()
	o.mu.Lock()
	o.entries[id] = &OutboxEntry{ID: id, To: to, Queued: now}
	o.mu.Unlock()
	return id
}

func (o *Outbox) attempt(id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return
	}
	e.Attempts++
	if err != nil {
		e.LastError = err.Error()
	}
}

func (o *Outbox) remove(id string) {
	o.mu.Lock()
	delete(o.entries, id)
	o.mu.Unlock()
}

// Pending returns a snapshot of queued posts, oldest first.
func (o *Outbox) Pending() []OutboxEntry {
	o.mu.Lock()
	out := make([]OutboxEntry, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, *e)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Queued.Before(out[j].Queued) })
	return out
}

// Len returns the number of queued posts.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
