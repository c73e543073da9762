// Package sqlite is Laminark's Storage Engine (C1): a single durable SQLite
// store opened through the pure-Go ncruces/go-sqlite3 driver, with
// write-ahead journaling, a configurable busy-wait, foreign-key enforcement,
// and an ordered migration registry — the teacher's connection idiom
// (cmd/bd/repair.go, internal/syncbranch) generalized to Laminark's schema.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/laminark/laminark/internal/logging"
	"github.com/laminark/laminark/internal/types"
)

// Store is the single durable record store backing every repository.
// Multi-row writes go through RunInTransaction for atomicity.
type Store struct {
	db               *sql.DB
	path             string
	log              logging.Logger
	hasVectorSupport bool

	vecMu     sync.Mutex
	vectorDim int // 0 until the first embedding write sizes the mirrored vec0 table
}

// DefaultBusyTimeoutMS matches the teacher's repair.go default.
const DefaultBusyTimeoutMS = 5000

// Open opens (creating if absent) a Laminark store at path, enables WAL
// journaling and foreign-key enforcement, and runs any missing migration
// tail. A corrupt file fails with ErrCorrupt/ErrStorageUnavail.
func Open(ctx context.Context, path string, busyTimeoutMS int, log logging.Logger) (*Store, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = DefaultBusyTimeoutMS
	}
	if log == nil {
		log = logging.Nop{}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, types.WrapErr(types.ErrStorageUnavail, err, "failed to create store directory")
		}
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, types.WrapErr(types.ErrStorageUnavail, err, "failed to open store at %s", path)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; readers share the WAL snapshot

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, types.WrapErr(types.ErrCorrupt, err, "store file is unreadable or corrupt")
	}

	if _, err := db.ExecContext(ctx, "PRAGMA quick_check(1)"); err != nil {
		_ = db.Close()
		return nil, types.WrapErr(types.ErrCorrupt, err, "store failed integrity check")
	}

	s := &Store{db: db, path: path, log: log}

	// WAL gives concurrent readers/writers safety once the schema exists,
	// but two processes opening a brand-new store for the first time could
	// race the migration tail against each other. A cross-process file
	// lock (separate from SQLite's own locking) serializes just that
	// window; it is released immediately after, so spec's "multiple hosts
	// may open the same store" concurrency isn't narrowed to single-host.
	migrationLock := flock.New(path + ".migrate.lock")
	lockCtx, cancel := context.WithTimeout(ctx, time.Duration(busyTimeoutMS)*time.Millisecond)
	locked, lockErr := migrationLock.TryLockContext(lockCtx, 50*time.Millisecond)
	cancel()
	if lockErr != nil || !locked {
		log.Warn("failed to acquire migration lock, proceeding without it", "error", lockErr)
	} else {
		defer func() { _ = migrationLock.Unlock() }()
	}

	if err := RunMigrations(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, types.WrapErr(types.ErrStorageUnavail, err, "migration failed")
	}

	s.hasVectorSupport = probeVectorSupport(ctx, db)
	if !s.hasVectorSupport {
		log.Warn("vector extension unavailable; degrading to keyword-only search")
	}

	return s, nil
}

// probeVectorSupport checks whether a sqlite-vec-style virtual table module
// is loadable, in the spirit of the teacher's Available(ctx) capability
// checks on optional backends (e.g. OllamaExtractor).
func probeVectorSupport(ctx context.Context, db *sql.DB) bool {
	_, err := db.ExecContext(ctx, "CREATE VIRTUAL TABLE IF NOT EXISTS __vec_probe USING vec0(v float[1])")
	if err != nil {
		return false
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS __vec_probe")
	return true
}

// HasVectorSupport reports whether the vector index is available.
func (s *Store) HasVectorSupport() bool { return s.hasVectorSupport }

// VectorDim returns the dimensionality the mirrored vec0 index was created
// with, or 0 if no embedding has been mirrored into it yet.
func (s *Store) VectorDim() int {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	return s.vectorDim
}

// ensureVectorIndex lazily creates observation_vectors sized to dim, the
// first time an embedding of that dimensionality is written. vec0 columns
// are fixed-width, so only one dimensionality is mirrored per store
// lifetime; a strategy change mid-lifetime that alters vector length is
// logged and its writes are skipped rather than mirrored at the wrong
// width. search.SearchVector's in-process scan stays correct regardless,
// since it never depends on the mirror.
func (s *Store) ensureVectorIndex(ctx context.Context, dim int) error {
	if !s.hasVectorSupport || dim <= 0 {
		return nil
	}
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	if s.vectorDim != 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(vectorSchemaFmt, dim)); err != nil {
		return err
	}
	s.vectorDim = dim
	return nil
}

// Path returns the store's file path.
func (s *Store) Path() string { return s.path }

// UnderlyingDB exposes the raw *sql.DB for components (search, hygiene)
// that need ad hoc read queries, mirroring the teacher's UnderlyingDB().
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// Close checkpoints the WAL and closes the store.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Tx is an open transaction bound to this store.
type Tx struct {
	*sql.Tx
}

// RunInTransaction runs fn inside a single SQLite transaction, committing
// on success and rolling back on error or panic, mirroring the teacher's
// RunInTransaction/committed-bool-plus-defer idiom.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapErr(types.ErrBusy, err, "failed to begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return types.WrapErr(types.ErrBusy, err, "failed to commit transaction")
	}
	committed = true
	return nil
}
