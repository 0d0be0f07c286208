// Package store provides object-store implementations behind host cache
// endpoints: an in-process store, a redis-backed store (store/redis) and
// Cached, a generation-validated read-through layer over any of them.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/syncache"
	"github.com/unkn0wn-root/syncache/internal/util"
)

// ErrNoRow is returned by Update and Destroy when the addressed row does not
// exist. A Find miss is (nil, nil), not an error.
var ErrNoRow = errors.New("store: no such row")

// Mem is an in-process object store. Rows are copied on the way in and out,
// so callers never share map instances with the store.
type Mem struct {
	idProp string

	mu     sync.RWMutex
	tables map[string]map[int64]syncache.Object
	nextID map[string]int64
}

type MemConfig struct {
	// IDProperty is stamped onto created rows. Defaults to "id".
	IDProperty string
}

func NewMem(cfg MemConfig) *Mem {
	prop := cfg.IDProperty
	if prop == "" {
		prop = "id"
	}
	return &Mem{
		idProp: prop,
		tables: make(map[string]map[int64]syncache.Object),
		nextID: make(map[string]int64),
	}
}

func (m *Mem) Find(_ context.Context, table string, q syncache.Query) (syncache.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.tables[table]
	if q.ID != nil {
		row, ok := rows[*q.ID]
		if !ok {
			return nil, nil
		}
		return util.CopyMap(row), nil
	}
	for _, row := range rows {
		if matches(row, q.Where) {
			return util.CopyMap(row), nil
		}
	}
	return nil, nil
}

func (m *Mem) FindAll(_ context.Context, table string, q syncache.Query) ([]syncache.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.tables[table]

	if q.ID != nil {
		if row, ok := rows[*q.ID]; ok {
			return []syncache.Object{util.CopyMap(row)}, nil
		}
		return nil, nil
	}

	out := make([]syncache.Object, 0, len(rows))
	for _, row := range rows {
		if !matches(row, q.Where) {
			continue
		}
		out = append(out, util.CopyMap(row))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *Mem) Create(_ context.Context, table string, values syncache.Object) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = make(map[int64]syncache.Object)
	}
	m.nextID[table]++
	id := m.nextID[table]

	row := util.CopyMap(values)
	row[m.idProp] = id
	m.tables[table][id] = row
	return id, nil
}

func (m *Mem) Update(_ context.Context, table string, id int64, values syncache.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tables[table][id]
	if !ok {
		return ErrNoRow
	}
	for k, v := range values {
		if k == m.idProp {
			continue
		}
		row[k] = util.CopyValue(v)
	}
	return nil
}

func (m *Mem) Destroy(_ context.Context, table string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table][id]; !ok {
		return ErrNoRow
	}
	delete(m.tables[table], id)
	return nil
}

func (m *Mem) Close(context.Context) error { return nil }

func matches(row syncache.Object, where map[string]any) bool {
	for k, v := range where {
		if !util.Equal(row[k], v) {
			return false
		}
	}
	return true
}
