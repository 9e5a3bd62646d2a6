package snapshot

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SQLBackend stores snapshots in the attempt_snapshots table created by
// db.Open. It works on both sqlite and postgres.
type SQLBackend struct{ db *sql.DB }

func NewSQLBackend(db *sql.DB) *SQLBackend { return &SQLBackend{db: db} }

func (s *SQLBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO attempt_snapshots (snapshot_key, data, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (snapshot_key) DO UPDATE SET data=EXCLUDED.data, updated_at=EXCLUDED.updated_at`,
		key, string(data), time.Now().Unix())
	return errors.Wrap(err, "upsert snapshot")
}

func (s *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM attempt_snapshots WHERE snapshot_key=$1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select snapshot")
	}
	return []byte(data), nil
}

func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attempt_snapshots WHERE snapshot_key=$1`, key)
	return errors.Wrap(err, "delete snapshot")
}

func (s *SQLBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_key FROM attempt_snapshots WHERE snapshot_key LIKE $1 ESCAPE '\' ORDER BY snapshot_key`,
		likePrefix(prefix))
	if err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan snapshot key")
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(p string) string { return likeEscaper.Replace(p) + "%" }
