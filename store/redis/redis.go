// Package redis implements the object store on a redis backend. Each table
// is a hash of id -> msgpack-encoded row; identifiers come from a per-table
// INCR counter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/syncache"
	"github.com/unkn0wn-root/syncache/internal/util"
	"github.com/unkn0wn-root/syncache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

type Store struct {
	rdb         goredis.UniversalClient
	ns          string
	idProp      string
	closeClient bool
}

var _ syncache.ObjectStore = (*Store)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Namespace prefixes every key. Defaults to "syncache".
	Namespace string
	// IDProperty is stamped onto created rows. Defaults to "id".
	IDProperty string
	// CloseClient releases the client on Close when this store owns it.
	CloseClient bool
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store{
		rdb:         cfg.Client,
		ns:          cfg.Namespace,
		idProp:      cfg.IDProperty,
		closeClient: cfg.CloseClient,
	}
	if s.ns == "" {
		s.ns = "syncache"
	}
	if s.idProp == "" {
		s.idProp = "id"
	}
	return s, nil
}

func (s *Store) Find(ctx context.Context, table string, q syncache.Query) (syncache.Object, error) {
	if q.ID != nil {
		b, err := s.rdb.HGet(ctx, s.tableKey(table), field(*q.ID)).Bytes()
		if err == goredis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return decodeRow(b)
	}

	rows, err := s.scan(ctx, table, q.Where, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *Store) FindAll(ctx context.Context, table string, q syncache.Query) ([]syncache.Object, error) {
	if q.ID != nil {
		row, err := s.Find(ctx, table, q)
		if err != nil || row == nil {
			return nil, err
		}
		return []syncache.Object{row}, nil
	}
	return s.scan(ctx, table, q.Where, q.Limit)
}

func (s *Store) Create(ctx context.Context, table string, values syncache.Object) (int64, error) {
	id, err := s.rdb.Incr(ctx, s.nextKey(table)).Result()
	if err != nil {
		return 0, err
	}
	row := util.CopyMap(values)
	row[s.idProp] = id

	b, err := msgpack.Marshal(row)
	if err != nil {
		return 0, err
	}
	if err := s.rdb.HSet(ctx, s.tableKey(table), field(id), b).Err(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, table string, id int64, values syncache.Object) error {
	row, err := s.Find(ctx, table, syncache.ByID(id))
	if err != nil {
		return err
	}
	if row == nil {
		return store.ErrNoRow
	}
	for k, v := range values {
		if k == s.idProp {
			continue
		}
		row[k] = v
	}
	b, err := msgpack.Marshal(row)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.tableKey(table), field(id), b).Err()
}

func (s *Store) Destroy(ctx context.Context, table string, id int64) error {
	n, err := s.rdb.HDel(ctx, s.tableKey(table), field(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNoRow
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// scan walks the table hash and filters Where clauses client-side. Table
// sizes are expected small; result-set windowing is out of scope.
func (s *Store) scan(ctx context.Context, table string, where map[string]any, limit int) ([]syncache.Object, error) {
	all, err := s.rdb.HGetAll(ctx, s.tableKey(table)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]syncache.Object, 0, len(all))
	for _, raw := range all {
		row, err := decodeRow([]byte(raw))
		if err != nil {
			return nil, err
		}
		ok := true
		for k, v := range where {
			if !util.Equal(row[k], v) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func decodeRow(b []byte) (syncache.Object, error) {
	var row syncache.Object
	if err := msgpack.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("redis store: row decode: %w", err)
	}
	return row, nil
}

func (s *Store) tableKey(table string) string { return s.ns + ":" + table }
func (s *Store) nextKey(table string) string  { return s.ns + ":" + table + ":next" }

func field(id int64) string { return strconv.FormatInt(id, 10) }
