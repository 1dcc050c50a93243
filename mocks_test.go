package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cacheErrors "github.com/campuskit/offlinecache/errors"
)

// memStore is an in-memory LocalStore for tests.
type memStore struct {
	mu      sync.Mutex
	tables  map[Table]map[string]json.RawMessage
	queue   []PendingRequest
	nextSeq int64
	flags   map[string]bool

	// failWith, when set, makes every operation fail with it.
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		tables: make(map[Table]map[string]json.RawMessage),
		flags:  make(map[string]bool),
	}
}

func (m *memStore) fail() error {
	return m.failWith
}

func (m *memStore) Put(ctx context.Context, table Table, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string]json.RawMessage)
		m.tables[table] = rows
	}
	for _, item := range items {
		rows[item.ID] = item.Data
	}
	return nil
}

func (m *memStore) Get(ctx context.Context, table Table, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	data, ok := m.tables[table][id]
	if !ok {
		return nil, cacheErrors.NewNotFoundError(cacheErrors.OpGet, errNotFound)
	}
	return data, nil
}

func (m *memStore) GetAll(ctx context.Context, table Table) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	var items []Item
	for id, data := range m.tables[table] {
		items = append(items, Item{ID: id, Data: data})
	}
	return items, nil
}

func (m *memStore) Delete(ctx context.Context, table Table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	delete(m.tables[table], id)
	return nil
}

func (m *memStore) ClearTable(ctx context.Context, table Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	delete(m.tables, table)
	return nil
}

func (m *memStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.tables = make(map[Table]map[string]json.RawMessage)
	m.queue = nil
	return nil
}

func (m *memStore) Enqueue(ctx context.Context, url, method string, body json.RawMessage) (PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return PendingRequest{}, err
	}
	m.nextSeq++
	req := PendingRequest{
		Seq:       m.nextSeq,
		URL:       url,
		Method:    method,
		Body:      body,
		RequestID: fmt.Sprintf("req-%d", m.nextSeq),
		Timestamp: time.Now().UTC(),
	}
	m.queue = append(m.queue, req)
	return req, nil
}

func (m *memStore) ListPending(ctx context.Context) ([]PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	out := make([]PendingRequest, len(m.queue))
	copy(out, m.queue)
	return out, nil
}

func (m *memStore) Remove(ctx context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	for i, req := range m.queue {
		if req.Seq == seq {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) PendingCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return 0, err
	}
	return len(m.queue), nil
}

func (m *memStore) Flag(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return false, err
	}
	return m.flags[key], nil
}

func (m *memStore) SetFlag(ctx context.Context, key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.flags[key] = value
	return nil
}

func (m *memStore) Close() error { return nil }

var errNotFound = &notFoundSentinel{}

type notFoundSentinel struct{}

func (*notFoundSentinel) Error() string { return "not found" }

// replayerFunc adapts a function to the Replayer interface.
type replayerFunc func(ctx context.Context, req PendingRequest) error

func (f replayerFunc) Replay(ctx context.Context, req PendingRequest) error {
	return f(ctx, req)
}

// scriptedReplayer records the order requests were replayed in and fails on
// the configured URLs.
type scriptedReplayer struct {
	mu       sync.Mutex
	replayed []string
	failURLs map[string]error
}

func newScriptedReplayer() *scriptedReplayer {
	return &scriptedReplayer{failURLs: make(map[string]error)}
}

func (r *scriptedReplayer) failOn(url string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failURLs[url] = err
}

func (r *scriptedReplayer) clearFail(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failURLs, url)
}

func (r *scriptedReplayer) Replay(ctx context.Context, req PendingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failURLs[req.URL]; ok {
		return err
	}
	r.replayed = append(r.replayed, req.URL)
	return nil
}

func (r *scriptedReplayer) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.replayed))
	copy(out, r.replayed)
	return out
}
