package services

import (
	"time"

	"github.com/yeremiapane/restaurant-sync/models"
)

// SyncState tells whether the store has confirmed an entry.
type SyncState string

const (
	StateSynced  SyncState = "synced"
	StateSyncing SyncState = "syncing"
)

// Entry is one row of the visible order list.
type Entry struct {
	models.Order
	State SyncState `json:"sync_state"`
}

type Kind string

const (
	// KindChanged carries a new visible list.
	KindChanged Kind = "changed"
	// KindSyncDelayed fires once when the store becomes unreachable.
	KindSyncDelayed Kind = "sync_delayed"
	// KindSyncRestored fires once when the store answers again.
	KindSyncRestored Kind = "sync_restored"
	// KindUnconfirmed fires when an optimistic create is given up.
	KindUnconfirmed Kind = "unconfirmed"
	// KindConflict fires when an optimistic change is rolled back.
	KindConflict Kind = "conflict"
)

type Notification struct {
	Kind   Kind
	Orders []Entry
	// Order is the record concerned by an unconfirmed or conflict notice.
	Order *models.Order
	Err   error
	At    time.Time
}

// Sink receives notifications in order, one at a time, with no engine or
// façade lock held. Notify may call OrderMutations; notifications raised by
// that call are delivered after Notify returns.
type Sink interface {
	Notify(Notification)
}

type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Orders strips the sync state off a view.
func Orders(entries []Entry) []models.Order {
	out := make([]models.Order, len(entries))
	for i, e := range entries {
		out[i] = e.Order
	}
	return out
}
