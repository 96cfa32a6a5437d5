package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeMigratorDB struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	beginFn    func(ctx context.Context) (pgx.Tx, error)
}

func (f *fakeMigratorDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if f.execFn != nil {
		return f.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}

func (f *fakeMigratorDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeMigratorRow{err: pgx.ErrNoRows}
}

func (f *fakeMigratorDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMigratorDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginFn != nil {
		return f.beginFn(ctx)
	}
	return &fakeMigratorTx{}, nil
}

type fakeMigratorRow struct {
	values []any
	err    error
}

func (r fakeMigratorRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			v, ok := r.values[i].(string)
			if !ok {
				return errors.New("expected string")
			}
			*d = v
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

type fakeMigratorTx struct {
	execFn        func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	commitErr     error
	rollbackErr   error
	rollbackCalls int
}

func (t *fakeMigratorTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeMigratorTx) Commit(ctx context.Context) error          { return t.commitErr }
func (t *fakeMigratorTx) Rollback(ctx context.Context) error {
	t.rollbackCalls++
	return t.rollbackErr
}
func (t *fakeMigratorTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeMigratorTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeMigratorTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeMigratorTx) Prepare(ctx context.Context, name string, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeMigratorTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}
func (t *fakeMigratorTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeMigratorTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeMigratorRow{err: errors.New("not implemented")}
}
func (t *fakeMigratorTx) Conn() *pgx.Conn { return nil }

func TestValidateMigrationPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		file    string
		wantErr bool
	}{
		{file: "migrations/001_owners.sql"},
		{file: "migrations/./002_questions.sql"},
		{file: "../outside.sql", wantErr: true},
		{file: "other/001_owners.sql", wantErr: true},
		{file: "migrations/../etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		clean, err := validateMigrationPath("migrations", tt.file)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected rejection, got %q", tt.file, clean)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.file, err)
		}
		if clean != filepath.Clean(tt.file) {
			t.Fatalf("%s: unexpected clean path %q", tt.file, clean)
		}
	}
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func TestRunMigrationsSuccessAndSkip(t *testing.T) {
	db := &fakeMigratorDB{}
	tx := &fakeMigratorTx{}
	var marked []any
	tx.execFn = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "schema_migrations") {
			marked = args
		}
		return pgconn.NewCommandTag("EXEC 1"), nil
	}
	db.beginFn = func(ctx context.Context) (pgx.Tx, error) { return tx, nil }
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		if args[0].(string) == "001_init.sql" {
			return fakeMigratorRow{values: []any{checksum([]byte("SELECT 1;"))}}
		}
		return fakeMigratorRow{err: pgx.ErrNoRows}
	}

	readCalls := 0
	readFile := func(name string) ([]byte, error) {
		readCalls++
		return []byte("SELECT 1;"), nil
	}
	glob := func(pattern string) ([]string, error) {
		return []string{"migrations/002_add.sql", "migrations/001_init.sql"}, nil
	}
	logger, logs := captureLogger()

	err := runMigrations(context.Background(), db, "migrations", readFile, glob, logger)
	if err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}
	if readCalls != 2 {
		t.Fatalf("expected both files read for checksums, got %d", readCalls)
	}
	if tx.rollbackCalls != 0 {
		t.Fatalf("unexpected rollback calls: %d", tx.rollbackCalls)
	}
	if len(marked) != 2 || marked[0] != "002_add.sql" || marked[1] != checksum([]byte("SELECT 1;")) {
		t.Fatalf("unexpected mark args: %#v", marked)
	}
	out := logs.String()
	if !strings.Contains(out, `"applied":1`) || !strings.Contains(out, "002_add.sql") {
		t.Fatalf("expected applied + summary logs, got %s", out)
	}
	if strings.Contains(out, "changed on disk") {
		t.Fatalf("unexpected checksum warning: %s", out)
	}
}

func TestRunMigrationsWarnsOnChangedFile(t *testing.T) {
	db := &fakeMigratorDB{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeMigratorRow{values: []any{"stale"}}
		},
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			t.Fatal("applied migration must not be re-run")
			return nil, nil
		},
	}
	glob := func(pattern string) ([]string, error) { return []string{"migrations/001.sql"}, nil }
	readFile := func(name string) ([]byte, error) { return []byte("SELECT 2;"), nil }
	logger, logs := captureLogger()

	if err := runMigrations(context.Background(), db, "migrations", readFile, glob, logger); err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}
	if !strings.Contains(logs.String(), "applied migration changed on disk") {
		t.Fatalf("expected checksum warning, got %s", logs.String())
	}
}

func TestRunMigrationsErrorBranches(t *testing.T) {
	okRead := func(name string) ([]byte, error) { return []byte("SELECT 1;"), nil }
	oneFile := func(pattern string) ([]string, error) { return []string{"migrations/001.sql"}, nil }
	failing := func(msg string) func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		return func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New(msg)
		}
	}
	failOnMark := func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "schema_migrations") {
			return pgconn.CommandTag{}, errors.New("mark fail")
		}
		return pgconn.NewCommandTag("EXEC 1"), nil
	}

	tests := []struct {
		name          string
		nilDB         bool
		db            fakeMigratorDB
		tx            *fakeMigratorTx
		read          func(name string) ([]byte, error)
		glob          func(pattern string) ([]string, error)
		want          string
		wantRollbacks int
	}{
		{name: "db required", nilDB: true, want: "db required"},
		{name: "create table", db: fakeMigratorDB{execFn: failing("create fail")}, want: "create schema_migrations"},
		{
			name: "glob",
			glob: func(pattern string) ([]string, error) { return nil, errors.New("glob fail") },
			want: "glob migrations",
		},
		{
			name: "path outside dir",
			glob: func(pattern string) ([]string, error) { return []string{"../evil.sql"}, nil },
			want: "invalid migration path",
		},
		{
			name: "read",
			read: func(name string) ([]byte, error) { return nil, errors.New("read fail") },
			glob: oneFile,
			want: "read migration",
		},
		{
			name: "lookup",
			db: fakeMigratorDB{queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
				return fakeMigratorRow{err: errors.New("lookup fail")}
			}},
			read: okRead,
			glob: oneFile,
			want: "migration lookup",
		},
		{
			name: "begin",
			db: fakeMigratorDB{beginFn: func(ctx context.Context) (pgx.Tx, error) {
				return nil, errors.New("begin fail")
			}},
			read: okRead,
			glob: oneFile,
			want: "begin migration tx",
		},
		{
			name:          "apply rolls back",
			tx:            &fakeMigratorTx{execFn: failing("apply fail")},
			read:          okRead,
			glob:          oneFile,
			want:          "apply migration",
			wantRollbacks: 1,
		},
		{
			name:          "mark rolls back",
			tx:            &fakeMigratorTx{execFn: failOnMark},
			read:          okRead,
			glob:          oneFile,
			want:          "mark migration",
			wantRollbacks: 1,
		},
		{
			name: "commit",
			tx:   &fakeMigratorTx{commitErr: errors.New("commit fail")},
			read: okRead,
			glob: oneFile,
			want: "commit migration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var db migrationDB
			if !tt.nilDB {
				fake := tt.db
				if tt.tx != nil {
					tx := tt.tx
					fake.beginFn = func(ctx context.Context) (pgx.Tx, error) { return tx, nil }
				}
				db = &fake
			}
			err := runMigrations(context.Background(), db, "migrations", tt.read, tt.glob, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if tt.tx != nil && tt.tx.rollbackCalls != tt.wantRollbacks {
				t.Fatalf("expected %d rollbacks, got %d", tt.wantRollbacks, tt.tx.rollbackCalls)
			}
		})
	}
}
