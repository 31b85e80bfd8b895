package sqlite

import (
	"context"
	"strings"

	"github.com/rexliu/davmark/pkg/kv"
)

const kvPrefix = "kv:"

// KV returns the durable key-value store kept in the meta table.
func (s *Store) KV() kv.Store {
	return metaKV{s: s}
}

type metaKV struct {
	s *Store
}

func (m metaKV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = kvPrefix + k
	}
	rows, err := m.s.db.QueryContext(ctx,
		`SELECT key, value FROM meta WHERE key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(key, kvPrefix)] = []byte(value)
	}
	return out, rows.Err()
}

func (m metaKV) Set(ctx context.Context, values map[string][]byte) error {
	tx, err := m.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, kvPrefix+k, string(v)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m metaKV) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = kvPrefix + k
	}
	_, err := m.s.db.ExecContext(ctx, `DELETE FROM meta WHERE key IN (`+placeholders(len(keys))+`)`, args...)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
