package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"
)

var migrationsDir string

func init() {
	if _, file, _, ok := runtime.Caller(0); ok {
		migrationsDir = filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	}
}

// Database is a migrated pool. When Schema is set every connection of
// the pool is confined to it and Close drops it.
type Database struct {
	Pool   *pgxpool.Pool
	Schema string
	dsn    string
}

// Open applies the migrations against dsn. With isolate set they run in
// a fresh schema so concurrent runs against a shared database do not
// see each other.
func Open(ctx context.Context, dsn string, isolate bool) (*Database, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("infra: parse dsn: %w", err)
	}

	d := &Database{dsn: dsn}
	if isolate {
		d.Schema = fmt.Sprintf("pf_test_%d", time.Now().UnixNano())
		if err := d.exec(ctx, "CREATE SCHEMA %s"); err != nil {
			return nil, err
		}
		setPath := fmt.Sprintf("SET search_path TO %s, public", pgx.Identifier{d.Schema}.Sanitize())
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, setPath)
			return err
		}
	}

	d.Pool, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("infra: open pool: %w", err), d.dropSchema(ctx))
	}
	if err := migrate(ctx, d.Pool); err != nil {
		return nil, multierr.Append(err, d.Close(ctx))
	}
	return d, nil
}

// Close releases the pool and drops the isolated schema, if any.
func (d *Database) Close(ctx context.Context) error {
	if d.Pool != nil {
		d.Pool.Close()
	}
	return d.dropSchema(ctx)
}

// Setup opens an isolated database for t from DATABASE_URL or DSNEnv and
// skips the test when neither is set.
func Setup(t testing.TB) *Database {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv(DSNEnv)
	}
	if dsn == "" {
		t.Skipf("set DATABASE_URL or %s to a live PostgreSQL to run this test", DSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := Open(ctx, dsn, true)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(context.Background()); err != nil {
			t.Logf("close test database: %v", err)
		}
	})
	return d
}

func (d *Database) dropSchema(ctx context.Context) error {
	if d.Schema == "" {
		return nil
	}
	return d.exec(ctx, "DROP SCHEMA IF EXISTS %s CASCADE")
}

// exec runs a schema statement on a dedicated connection, outside the
// pool's search_path.
func (d *Database) exec(ctx context.Context, format string) (err error) {
	conn, err := pgx.Connect(ctx, d.dsn)
	if err != nil {
		return fmt.Errorf("infra: connect: %w", err)
	}
	defer func() { err = multierr.Append(err, conn.Close(ctx)) }()

	if _, err := conn.Exec(ctx, fmt.Sprintf(format, pgx.Identifier{d.Schema}.Sanitize())); err != nil {
		return fmt.Errorf("infra: schema %s: %w", d.Schema, err)
	}
	return nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return fmt.Errorf("infra: list migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("infra: no migrations in %s", migrationsDir)
	}
	// Glob returns names in lexical order, which is the apply order.
	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("infra: read %s: %w", filepath.Base(f), err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("infra: apply %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}
