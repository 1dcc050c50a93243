// Package sqlite provides a SQLite implementation of the offlinecache LocalStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/offlinecache"
	cacheErrors "github.com/campuskit/offlinecache/errors"
	"github.com/campuskit/offlinecache/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opOpen    = cacheErrors.OpOpen
	opPut     = cacheErrors.OpPut
	opGet     = cacheErrors.OpGet
	opList    = cacheErrors.OpList
	opDelete  = cacheErrors.OpDelete
	opClear   = cacheErrors.OpClear
	opEnqueue = cacheErrors.OpEnqueue
	opDequeue = cacheErrors.OpDequeue
	opFlag    = cacheErrors.OpFlag
)

// schemaVersion is the schema this build writes. Upgrades are additive only:
// opening an older store must never destroy data in existing tables.
//
//	v1: entities + meta
//	v2: offline_requests
//	v3: offline_requests.request_id
const schemaVersion = 3

// Custom errors for better error handling
var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNotFound    = errors.New("entity not found")
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including WAL mode
// and a busy timeout suited to a single local client process.
type Config struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// EnableWAL enables Write-Ahead Logging mode. Recommended and enabled
	// by default; appends "_journal_mode=WAL" to the DSN.
	EnableWAL bool

	// BusyTimeout bounds how long a statement waits on a locked database.
	// Default: 5s.
	BusyTimeout time.Duration

	// Logger is an optional logger for internal operations and errors.
	Logger *logging.Logger

	// Connection pool settings. A local cache sees one process, so the
	// defaults are modest: MaxOpen=4, MaxIdle=2, Lifetime=1h, IdleTime=5m.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("sqlite-store"))
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(path string) *Config {
	config := &Config{
		Path:      path,
		EnableWAL: true,
	}
	config.setDefaults()
	return config
}

// dsn builds the driver connection string from the config.
func (c *Config) dsn() string {
	dsn := c.Path
	params := []string{
		fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds()),
	}
	if c.EnableWAL && c.Path != ":memory:" {
		params = append(params, "_journal_mode=WAL")
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + strings.Join(params, "&")
	}
	return dsn + "?" + strings.Join(params, "&")
}

// Store implements the offlinecache.LocalStore interface for SQLite.
//
// A Store opened with NewDegraded answers every call with a STORE_UNAVAILABLE
// error instead of panicking, so the application stays usable (read-through
// to network) when the engine cannot be used at all.
type Store struct {
	db       *sql.DB
	mu       stdSync.RWMutex
	closed   bool
	degraded error
	logger   *logging.Logger
}

// Compile-time check to ensure Store satisfies the LocalStore interface
var _ offlinecache.LocalStore = (*Store)(nil)

// Open is a convenience constructor using DefaultConfig.
func Open(path string) (*Store, error) {
	return New(DefaultConfig(path))
}

// OpenOrDegraded opens the store at path, falling back to a degraded store
// when the engine is unavailable (permissions, quota, corrupt file). The
// failure is logged once; every subsequent operation reports it.
func OpenOrDegraded(path string) *Store {
	store, err := Open(path)
	if err != nil {
		logging.WithComponent(logging.Component("sqlite-store")).Warn(
			"persistent cache unavailable, running without local data",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return NewDegraded(err)
	}
	return store
}

// NewDegraded returns a store whose every operation fails with a
// STORE_UNAVAILABLE error wrapping cause.
func NewDegraded(cause error) *Store {
	return &Store{
		degraded: cause,
		logger:   logging.WithComponent(logging.Component("sqlite-store")),
	}
}

// New creates a new Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.Path == "" {
		return nil, fmt.Errorf("Path is required")
	}

	logger := config.Logger
	logger.Info("opening local store",
		slog.String("path", config.Path),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.dsn())
	if err != nil {
		return nil, cacheErrors.NewStoreUnavailableError(opOpen, err)
	}

	// An in-memory database exists per connection, so the pool must not
	// open a second one.
	if config.Path == ":memory:" {
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cacheErrors.NewStoreUnavailableError(opOpen, err)
	}

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, cacheErrors.NewStoreUnavailableError(opOpen, err)
	}

	logger.Info("local store ready",
		slog.Int("schema_version", schemaVersion),
	)
	return store, nil
}

// migrate brings the persisted schema up to schemaVersion. Migrations only
// add tables; rows in existing tables are untouched.
func (s *Store) migrate() error {
	// The meta table carries the schema version itself, so it must exist
	// before the version can be read.
	if _, err := s.db.Exec(`
    CREATE TABLE IF NOT EXISTS meta (
        k TEXT PRIMARY KEY,
        v TEXT NOT NULL
    );`); err != nil {
		return err
	}

	current, err := s.currentVersion()
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if current < 1 {
		if _, err = tx.Exec(`
    CREATE TABLE IF NOT EXISTS entities (
        tbl        TEXT NOT NULL,
        id         TEXT NOT NULL,
        data       TEXT NOT NULL,
        updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (tbl, id)
    );
    CREATE INDEX IF NOT EXISTS idx_entities_tbl ON entities (tbl);
    `); err != nil {
			return err
		}
	}

	if current < 2 {
		if _, err = tx.Exec(`
    CREATE TABLE IF NOT EXISTS offline_requests (
        seq        INTEGER PRIMARY KEY AUTOINCREMENT,
        url        TEXT NOT NULL,
        method     TEXT NOT NULL,
        body       TEXT,
        created_at TIMESTAMP NOT NULL
    );`); err != nil {
			return err
		}
	}

	if current < 3 {
		if _, err = tx.Exec(
			`ALTER TABLE offline_requests ADD COLUMN request_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
		// Entries queued before the column existed still need a stable key.
		if err = backfillRequestIDs(tx); err != nil {
			return err
		}
	}

	if _, err = tx.Exec(`
    INSERT INTO meta (k, v) VALUES ('schema_version', ?)
    ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		strconv.Itoa(schemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}

// backfillRequestIDs assigns a key to every queued entry that predates the
// request_id column.
func backfillRequestIDs(tx *sql.Tx) error {
	rows, err := tx.Query(`SELECT seq FROM offline_requests WHERE request_id = ''`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var seqs []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return err
		}
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, seq := range seqs {
		if _, err := tx.Exec(
			`UPDATE offline_requests SET request_id = ? WHERE seq = ?`,
			uuid.NewString(), seq); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) currentVersion() (int, error) {
	var v string
	err := s.db.QueryRow(`SELECT v FROM meta WHERE k = 'schema_version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// guard rejects operations on closed or degraded stores and checks ctx.
func (s *Store) guard(ctx context.Context, op cacheErrors.Operation) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded != nil {
		return cacheErrors.NewStoreUnavailableError(op, s.degraded)
	}
	if s.closed {
		return cacheErrors.NewStoreUnavailableError(op, ErrStoreClosed)
	}
	return nil
}

// Put upserts each item by its ID into table. Last write wins: an existing id
// is fully replaced, never merged.
func (s *Store) Put(ctx context.Context, table offlinecache.Table, items []offlinecache.Item) error {
	if err := s.guard(ctx, opPut); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cacheErrors.NewStoreUnavailableError(opPut, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
    INSERT INTO entities (tbl, id, data, updated_at) VALUES (?, ?, ?, ?)
    ON CONFLICT(tbl, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	if err != nil {
		return cacheErrors.NewStoreUnavailableError(opPut, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		if item.ID == "" {
			err = cacheErrors.NewValidationError(opPut, fmt.Errorf("item has no id"))
			return err
		}
		if _, err = stmt.ExecContext(ctx, string(table), item.ID, string(item.Data), now); err != nil {
			return cacheErrors.NewStoreUnavailableError(opPut, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return cacheErrors.NewStoreUnavailableError(opPut, err)
	}
	return nil
}

// Get returns the entity with the given id.
func (s *Store) Get(ctx context.Context, table offlinecache.Table, id string) (json.RawMessage, error) {
	if err := s.guard(ctx, opGet); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE tbl = ? AND id = ?`,
		string(table), id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, cacheErrors.NewNotFoundError(opGet, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id))
	}
	if err != nil {
		return nil, cacheErrors.NewStoreUnavailableError(opGet, err)
	}
	return json.RawMessage(data), nil
}

// GetAll returns every row in table, ordered by id for stable iteration.
func (s *Store) GetAll(ctx context.Context, table offlinecache.Table) ([]offlinecache.Item, error) {
	if err := s.guard(ctx, opList); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM entities WHERE tbl = ? ORDER BY id ASC`,
		string(table))
	if err != nil {
		return nil, cacheErrors.NewStoreUnavailableError(opList, err)
	}
	defer rows.Close()

	var items []offlinecache.Item
	for rows.Next() {
		var item offlinecache.Item
		var data string
		if err := rows.Scan(&item.ID, &data); err != nil {
			return nil, cacheErrors.NewStoreUnavailableError(opList, err)
		}
		item.Data = json.RawMessage(data)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, cacheErrors.NewStoreUnavailableError(opList, err)
	}
	return items, nil
}

// Delete removes one entity. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, table offlinecache.Table, id string) error {
	if err := s.guard(ctx, opDelete); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE tbl = ? AND id = ?`,
		string(table), id)
	if err != nil {
		return cacheErrors.NewStoreUnavailableError(opDelete, err)
	}
	return nil
}

// ClearTable empties one table.
func (s *Store) ClearTable(ctx context.Context, table offlinecache.Table) error {
	if err := s.guard(ctx, opClear); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE tbl = ?`, string(table))
	if err != nil {
		return cacheErrors.NewStoreUnavailableError(opClear, err)
	}
	return nil
}

// ClearAll empties every entity table and the pending-write queue. Device
// flags in meta survive a full reset: they describe the device, not the user.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.guard(ctx, opClear); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cacheErrors.NewStoreUnavailableError(opClear, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return cacheErrors.NewStoreUnavailableError(opClear, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM offline_requests`); err != nil {
		return cacheErrors.NewStoreUnavailableError(opClear, err)
	}

	if err = tx.Commit(); err != nil {
		return cacheErrors.NewStoreUnavailableError(opClear, err)
	}
	return nil
}

// Enqueue appends an outbound mutation to the pending-write queue. If the
// queue table is missing from an older persisted schema, the store runs its
// migrations and retries the insert exactly once: a queued write must not be
// lost to a stale schema.
func (s *Store) Enqueue(ctx context.Context, url, method string, body json.RawMessage) (offlinecache.PendingRequest, error) {
	var req offlinecache.PendingRequest

	if err := s.guard(ctx, opEnqueue); err != nil {
		return req, err
	}
	if url == "" {
		return req, cacheErrors.NewValidationError(opEnqueue, fmt.Errorf("url is required"))
	}
	if method == "" {
		return req, cacheErrors.NewValidationError(opEnqueue, fmt.Errorf("method is required"))
	}

	now := time.Now().UTC()
	requestID := uuid.NewString()
	seq, err := s.insertPending(ctx, url, method, body, requestID, now)
	if err != nil && isMissingTable(err) {
		if migrateErr := s.migrate(); migrateErr != nil {
			return req, cacheErrors.NewTableMissingError(opEnqueue, migrateErr)
		}
		seq, err = s.insertPending(ctx, url, method, body, requestID, now)
	}
	if err != nil {
		return req, classifyQueueErr(opEnqueue, err)
	}

	return offlinecache.PendingRequest{
		Seq:       seq,
		URL:       url,
		Method:    method,
		Body:      body,
		RequestID: requestID,
		Timestamp: now,
	}, nil
}

func (s *Store) insertPending(ctx context.Context, url, method string, body json.RawMessage, requestID string, now time.Time) (int64, error) {
	var bodyVal interface{}
	if body != nil {
		bodyVal = string(body)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO offline_requests (url, method, body, request_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		url, method, bodyVal, requestID, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// isMissingTable reports whether err is SQLite's missing-table error. Matched
// by message because the driver does not expose a typed error for it.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// classifyQueueErr maps driver errors on the queue table onto the error
// taxonomy: a missing table is TABLE_MISSING, everything else means the
// engine itself is unusable.
func classifyQueueErr(op cacheErrors.Operation, err error) *cacheErrors.CacheError {
	if isMissingTable(err) {
		return cacheErrors.NewTableMissingError(op, err)
	}
	return cacheErrors.NewStoreUnavailableError(op, err)
}

// ListPending returns all queued entries, oldest first. Seq order is
// insertion order, which is chronological order.
func (s *Store) ListPending(ctx context.Context) ([]offlinecache.PendingRequest, error) {
	if err := s.guard(ctx, opDequeue); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, url, method, body, request_id, created_at FROM offline_requests ORDER BY seq ASC`)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, cacheErrors.NewStoreUnavailableError(opDequeue, err)
	}
	defer rows.Close()

	var pending []offlinecache.PendingRequest
	for rows.Next() {
		var req offlinecache.PendingRequest
		var body sql.NullString
		if err := rows.Scan(&req.Seq, &req.URL, &req.Method, &body, &req.RequestID, &req.Timestamp); err != nil {
			return nil, cacheErrors.NewStoreUnavailableError(opDequeue, err)
		}
		if body.Valid {
			req.Body = json.RawMessage(body.String)
		}
		pending = append(pending, req)
	}
	if err := rows.Err(); err != nil {
		return nil, cacheErrors.NewStoreUnavailableError(opDequeue, err)
	}
	return pending, nil
}

// Remove deletes one queue entry.
func (s *Store) Remove(ctx context.Context, seq int64) error {
	if err := s.guard(ctx, opDequeue); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_requests WHERE seq = ?`, seq)
	if err != nil {
		return classifyQueueErr(opDequeue, err)
	}
	return nil
}

// PendingCount returns the number of queued entries.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	if err := s.guard(ctx, opDequeue); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_requests`).Scan(&count)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, cacheErrors.NewStoreUnavailableError(opDequeue, err)
	}
	return count, nil
}

// Flag reads a device-local boolean flag; missing flags are false.
func (s *Store) Flag(ctx context.Context, key string) (bool, error) {
	if err := s.guard(ctx, opFlag); err != nil {
		return false, err
	}

	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM meta WHERE k = ?`, flagKey(key)).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, cacheErrors.NewStoreUnavailableError(opFlag, err)
	}
	return v == "1", nil
}

// SetFlag persists a device-local boolean flag.
func (s *Store) SetFlag(ctx context.Context, key string, value bool) error {
	if err := s.guard(ctx, opFlag); err != nil {
		return err
	}

	v := "0"
	if value {
		v = "1"
	}
	_, err := s.db.ExecContext(ctx, `
    INSERT INTO meta (k, v) VALUES (?, ?)
    ON CONFLICT(k) DO UPDATE SET v = excluded.v`, flagKey(key), v)
	if err != nil {
		return cacheErrors.NewStoreUnavailableError(opFlag, err)
	}
	return nil
}

// flagKey namespaces device flags away from store metadata like the schema version.
func flagKey(key string) string {
	return "flag:" + key
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.degraded != nil {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.degraded != nil {
		s.closed = true
		return nil
	}

	s.closed = true
	return s.db.Close()
}
