package offlinecache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	cacheErrors "github.com/campuskit/offlinecache/errors"
	"github.com/campuskit/offlinecache/logging"
)

// DefaultOpTimeout bounds each store operation issued by the Accessor. A hung
// storage engine call is treated the same as a store failure: the caller gets
// the empty result for its return type.
const DefaultOpTimeout = 5 * time.Second

// Accessor is the generic CRUD surface feature modules use to read and write
// cached copies of server entities. It hides table-existence checks and store
// failures: every method returns the empty result appropriate to its type on
// failure, alongside a *errors.CacheError that callers may inspect when the
// distinction between "empty" and "store failed" matters. UI code is free to
// ignore the error and render with no cached data.
type Accessor struct {
	store     LocalStore
	logger    *logging.Logger
	metrics   MetricsCollector
	opTimeout time.Duration
}

// AccessorOption configures an Accessor.
type AccessorOption func(*Accessor)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *logging.Logger) AccessorOption {
	return func(a *Accessor) { a.logger = l }
}

// WithMetrics sets the metrics collector for store-error accounting.
func WithMetrics(m MetricsCollector) AccessorOption {
	return func(a *Accessor) { a.metrics = m }
}

// WithOpTimeout overrides the per-operation store timeout.
func WithOpTimeout(d time.Duration) AccessorOption {
	return func(a *Accessor) { a.opTimeout = d }
}

// NewAccessor creates an Accessor over the given store.
func NewAccessor(store LocalStore, opts ...AccessorOption) *Accessor {
	a := &Accessor{
		store:     store,
		metrics:   &NoOpMetricsCollector{},
		opTimeout: DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.WithComponent(logging.Component("accessor"))
	}
	return a
}

// opCtx bounds a single store operation.
func (a *Accessor) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.opTimeout)
}

// warn logs a degraded operation and records it.
func (a *Accessor) warn(ctx context.Context, op cacheErrors.Operation, table Table, err error) {
	a.metrics.RecordStoreError(string(op))
	a.logger.WarnContext(ctx, "cache operation degraded",
		slog.String("operation", string(op)),
		slog.String("table", string(table)),
		slog.String("error", err.Error()),
	)
}

// CacheUser upserts the singleton user row at the fixed key.
func (a *Accessor) CacheUser(ctx context.Context, user json.RawMessage) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	err := a.store.Put(ctx, TableUser, []Item{{ID: UserKey, Data: user}})
	if err != nil {
		a.warn(ctx, cacheErrors.OpPut, TableUser, err)
	}
	return err
}

// CachedUser returns the cached user, or nil if none is cached or the store
// is unusable.
func (a *Accessor) CachedUser(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	data, err := a.store.Get(ctx, TableUser, UserKey)
	if err != nil {
		if cacheErrors.CodeOf(err) == cacheErrors.ErrCodeEntityNotFound {
			return nil, nil
		}
		a.warn(ctx, cacheErrors.OpGet, TableUser, err)
		return nil, err
	}
	return data, nil
}

// CacheItems upserts each item by its own key into table. Calling it with an
// undeclared table or an empty list is a no-op.
func (a *Accessor) CacheItems(ctx context.Context, table Table, items []Item) error {
	if !table.Valid() {
		a.logger.WarnContext(ctx, "ignoring write to undeclared table",
			slog.String("table", string(table)),
		)
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	err := a.store.Put(ctx, table, items)
	if err != nil {
		a.warn(ctx, cacheErrors.OpPut, table, err)
	}
	return err
}

// AllItems returns every row in table, or an empty slice if the table is
// undeclared or the store is unusable.
func (a *Accessor) AllItems(ctx context.Context, table Table) ([]Item, error) {
	if !table.Valid() {
		a.logger.WarnContext(ctx, "ignoring read from undeclared table",
			slog.String("table", string(table)),
		)
		return []Item{}, nil
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	items, err := a.store.GetAll(ctx, table)
	if err != nil {
		a.warn(ctx, cacheErrors.OpList, table, err)
		return []Item{}, err
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// ItemByID returns one entity, or nil if it does not exist, the table is
// undeclared, or the store is unusable.
func (a *Accessor) ItemByID(ctx context.Context, table Table, id string) (json.RawMessage, error) {
	if !table.Valid() {
		return nil, nil
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	data, err := a.store.Get(ctx, table, id)
	if err != nil {
		if cacheErrors.CodeOf(err) == cacheErrors.ErrCodeEntityNotFound {
			return nil, nil
		}
		a.warn(ctx, cacheErrors.OpGet, table, err)
		return nil, err
	}
	return data, nil
}

// DeleteItem removes one entity from table. Missing ids are ignored.
func (a *Accessor) DeleteItem(ctx context.Context, table Table, id string) error {
	if !table.Valid() {
		return nil
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	err := a.store.Delete(ctx, table, id)
	if err != nil {
		a.warn(ctx, cacheErrors.OpDelete, table, err)
	}
	return err
}

// ClearAllData empties every declared table and the pending-write queue.
// Safe to call repeatedly.
func (a *Accessor) ClearAllData(ctx context.Context) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	err := a.store.ClearAll(ctx)
	if err != nil {
		a.warn(ctx, cacheErrors.OpClear, "", err)
	}
	return err
}

// ClearUserData empties only the user table. Used on logout so domain caches
// can still serve the next session read-through while stale identity is gone.
func (a *Accessor) ClearUserData(ctx context.Context) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	err := a.store.ClearTable(ctx, TableUser)
	if err != nil {
		a.warn(ctx, cacheErrors.OpClear, TableUser, err)
	}
	return err
}
