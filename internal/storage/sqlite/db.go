// Package sqlite backs the durable pieces of the engine with SQLite via
// modernc.org/sqlite: the retry task queue and the activated version
// label, both of which must survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// dsnFor builds a file DSN with the pragmas the engine needs: WAL so
// queue writes never block state reads, a busy timeout to ride out
// checkpoint stalls, and foreign keys on.
func dsnFor(dsn string) string {
	const pragmas = "_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
	if dsn == ":memory:" {
		// Shared cache keeps both pools on the same in-memory database.
		return "file::memory:?mode=memory&cache=shared&" + pragmas
	}
	return "file:" + dsn + "?" + pragmas
}

// Store implements storage.Store on two pools over the same database:
// a single-connection writer, since SQLite serializes writers anyway,
// and a reader pool sized to the machine.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the database at dsn and brings the schema up to date.
func New(dsn string) (*Store, error) {
	full := dsnFor(dsn)

	write, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", full)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := migrate(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{write: write, read: read}, nil
}

// migrate applies the embedded goose migrations on the writer. fs.Sub
// strips the directory prefix so goose sees files at the FS root.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = p.Up(context.Background())
	return err
}

// Ping reports whether the database is reachable. The readiness probe
// calls this on every poll.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
