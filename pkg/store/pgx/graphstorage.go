package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reqgraph/backend/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// RequirementDBStorage reads requirements from the primary Postgres store
// and keeps the per-requirement graph sync bookkeeping.
type RequirementDBStorage struct {
	conn pgxIConn
	// staleAfter lets a sync status count as stale even when the record
	// was not touched since, so periodic reconciles re-push everything.
	staleAfter int64
}

var _ store.RecordStorage = (*RequirementDBStorage)(nil)

type RequirementDBStorageOption func(*RequirementDBStorage)

// WithStaleAfterSeconds marks sync rows older than the given age as stale
// for ListUnsyncedRequirements. Zero disables the age check.
func WithStaleAfterSeconds(seconds int64) RequirementDBStorageOption {
	return func(s *RequirementDBStorage) {
		s.staleAfter = seconds
	}
}

// NewRequirementDBStorage wraps a pool, a single connection or a
// transaction.
func NewRequirementDBStorage(conn pgxIConn, opts ...RequirementDBStorageOption) *RequirementDBStorage {
	s := &RequirementDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}
