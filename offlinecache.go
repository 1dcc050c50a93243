// Package offlinecache provides the offline-first local data layer for the
// student-portal client: a durable per-device cache of server entities, a
// pending-write queue for mutations made while offline, and a connectivity
// monitor that drains the queue on reconnection.
//
// The store is process-local. Multiple processes (or portal tabs) writing to
// the same store file concurrently is an unsupported configuration; the last
// write to commit wins and no cross-process coordination is attempted.
package offlinecache

import (
	"context"
	"encoding/json"
	"time"
)

// Table identifies one of the declared entity tables. The set is closed:
// callers cannot create tables at runtime, and operations on an undeclared
// table degrade to empty results rather than failing.
type Table string

const (
	TableUser          Table = "user"
	TableCourses       Table = "courses"
	TableAcademics     Table = "academics"
	TableTasks         Table = "tasks"
	TableNotifications Table = "notifications"
	TableFinances      Table = "finances"
	TableAnnouncements Table = "announcements"
)

// UserKey is the fixed key of the singleton row in TableUser.
const UserKey = "currentUser"

// Tables returns all declared entity tables.
func Tables() []Table {
	return []Table{
		TableUser,
		TableCourses,
		TableAcademics,
		TableTasks,
		TableNotifications,
		TableFinances,
		TableAnnouncements,
	}
}

// Valid reports whether t is one of the declared tables.
func (t Table) Valid() bool {
	switch t {
	case TableUser, TableCourses, TableAcademics, TableTasks,
		TableNotifications, TableFinances, TableAnnouncements:
		return true
	}
	return false
}

// Item is a cached copy of a server entity. Data is the opaque JSON payload
// the REST API returned; this layer never interprets it.
type Item struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// PendingRequest is a queued outbound mutation captured while offline.
// Entries are immutable once written; they are only ever removed, and only
// after a successful replay.
type PendingRequest struct {
	// Seq is the auto-assigned monotonic id. Ordering by Seq is insertion
	// order, which is chronological order.
	Seq int64 `json:"seq"`

	// URL the mutation targets. Required.
	URL string `json:"url"`

	// Method is the HTTP verb. Required.
	Method string `json:"method"`

	// Body is the request payload, or nil if the request had none.
	Body json.RawMessage `json:"body,omitempty"`

	// RequestID is the idempotency key minted when the entry was queued. It
	// is stable across replay attempts, so a write the server accepted but the
	// queue failed to remove is deduplicated when it is sent again.
	RequestID string `json:"requestId"`

	// Timestamp records when the request was queued.
	Timestamp time.Time `json:"timestamp"`
}

// LocalStore is the durable, versioned, named-table store backing the cache.
// Implementations must not panic on storage-engine failure: every operation
// returns a *errors.CacheError describing the failure instead, and a store
// opened in degraded mode answers every call with a STORE_UNAVAILABLE error.
type LocalStore interface {
	// Put upserts each item by its ID into table. A put with an existing id
	// fully replaces the prior value (last write wins). Safe with an empty
	// list.
	Put(ctx context.Context, table Table, items []Item) error

	// Get returns the entity with the given id, or an ENTITY_NOT_FOUND error
	// if no such row exists.
	Get(ctx context.Context, table Table, id string) (json.RawMessage, error)

	// GetAll returns every row in table.
	GetAll(ctx context.Context, table Table) ([]Item, error)

	// Delete removes one entity. Deleting a missing id is not an error.
	Delete(ctx context.Context, table Table, id string) error

	// ClearTable empties one table.
	ClearTable(ctx context.Context, table Table) error

	// ClearAll empties every declared table and the pending-write queue.
	// Device flags survive; they describe the device, not the signed-in user.
	ClearAll(ctx context.Context) error

	// Enqueue appends an outbound mutation to the pending-write queue and
	// returns the stored entry with its assigned Seq. If the queue table is
	// missing from an older persisted schema, the store upgrades the schema
	// and retries the insert exactly once.
	Enqueue(ctx context.Context, url, method string, body json.RawMessage) (PendingRequest, error)

	// ListPending returns all queued entries, oldest first.
	ListPending(ctx context.Context) ([]PendingRequest, error)

	// Remove deletes one queue entry after it has been successfully replayed.
	Remove(ctx context.Context, seq int64) error

	// PendingCount returns the number of queued entries.
	PendingCount(ctx context.Context) (int, error)

	// Flag reads a device-local boolean flag; missing flags are false.
	Flag(ctx context.Context, key string) (bool, error)

	// SetFlag persists a device-local boolean flag.
	SetFlag(ctx context.Context, key string, value bool) error

	// Close closes the store and releases resources.
	Close() error
}

// Replayer issues a queued request against the server. Implementations must
// return a retryable REPLAY_FAILURE error for transient failures (network,
// 5xx) and a non-retryable one for permanent rejections (4xx), so the drain
// can report them distinctly. A nil return means the server accepted the
// replay and the entry may be removed from the queue.
type Replayer interface {
	Replay(ctx context.Context, req PendingRequest) error
}
