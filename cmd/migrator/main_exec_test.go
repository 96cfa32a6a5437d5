package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Namchee/tanyaaja/pkg/store"
)

type fakeMigratorDBCloser struct {
	fakeMigratorDB
	closed bool
}

func (f *fakeMigratorDBCloser) Close() { f.closed = true }

func restoreMigratorHooks(t *testing.T) {
	t.Helper()
	origLogFatalf := logFatalf
	origOpenDB := openDBFn
	t.Cleanup(func() {
		logFatalf = origLogFatalf
		openDBFn = origOpenDB
	})
}

func writeMigrations(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"001_owners.sql":    "CREATE TABLE owners (uid TEXT PRIMARY KEY);",
		"002_questions.sql": "CREATE TABLE questions (uuid TEXT PRIMARY KEY);",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write migration: %v", err)
		}
	}
	return dir
}

func TestRunAppliesMigrationsAndSeed(t *testing.T) {
	restoreMigratorHooks(t)
	t.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/tanyaaja")
	t.Setenv("STORE_SEED_FILE", "")

	seed := filepath.Join(t.TempDir(), "owners.yaml")
	if err := os.WriteFile(seed, []byte("owners:\n  - uid: u-1\n    slug: namchee\n    name: Namchee\n"), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	var seeded []any
	var applied []string
	db := &fakeMigratorDBCloser{}
	db.execFn = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "INSERT INTO owners") {
			seeded = args
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	db.beginFn = func(ctx context.Context) (pgx.Tx, error) {
		return &fakeMigratorTx{execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if strings.Contains(sql, "schema_migrations") {
				applied = append(applied, args[0].(string))
			}
			return pgconn.NewCommandTag("EXEC 1"), nil
		}}, nil
	}
	var gotOpts store.PostgresOptions
	openDBFn = func(ctx context.Context, opts store.PostgresOptions) (migrationDBCloser, error) {
		gotOpts = opts
		return db, nil
	}

	var stdout bytes.Buffer
	err := run(context.Background(), []string{"--dir", writeMigrations(t), "--seed", seed}, &stdout)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotOpts.URL != "postgres://user:pass@db:5432/tanyaaja" {
		t.Fatalf("unexpected database url: %q", gotOpts.URL)
	}
	if len(applied) != 2 || applied[0] != "001_owners.sql" || applied[1] != "002_questions.sql" {
		t.Fatalf("unexpected applied migrations: %v", applied)
	}
	if len(seeded) == 0 || seeded[0] != "u-1" {
		t.Fatalf("expected owner seeded, got %#v", seeded)
	}
	if !db.closed {
		t.Fatal("expected pool closed")
	}
	if !strings.Contains(stdout.String(), "seeded owners") {
		t.Fatalf("expected seed log, got %s", stdout.String())
	}
}

func TestRunFailures(t *testing.T) {
	okDB := func(ctx context.Context, opts store.PostgresOptions) (migrationDBCloser, error) {
		return &fakeMigratorDBCloser{}, nil
	}

	tests := []struct {
		name   string
		args   []string
		openDB func(ctx context.Context, opts store.PostgresOptions) (migrationDBCloser, error)
		want   string
	}{
		{
			name:   "unknown flag",
			args:   []string{"--nope"},
			openDB: okDB,
			want:   "flags",
		},
		{
			name: "db open",
			args: []string{"--dir", t.TempDir()},
			openDB: func(ctx context.Context, opts store.PostgresOptions) (migrationDBCloser, error) {
				return nil, errors.New("db connection failed")
			},
			want: "db connection failed",
		},
		{
			name: "migration",
			args: []string{"--dir", t.TempDir()},
			openDB: func(ctx context.Context, opts store.PostgresOptions) (migrationDBCloser, error) {
				db := &fakeMigratorDBCloser{}
				db.execFn = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					return pgconn.CommandTag{}, errors.New("exec failed")
				}
				return db, nil
			},
			want: "migration",
		},
		{
			name:   "missing seed file",
			args:   []string{"--dir", t.TempDir(), "--seed", filepath.Join(t.TempDir(), "missing.yaml")},
			openDB: okDB,
			want:   "missing.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreMigratorHooks(t)
			openDBFn = tt.openDB
			err := run(context.Background(), tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMainCallsFatalOnError(t *testing.T) {
	restoreMigratorHooks(t)
	fatalCalled := false
	logFatalf = func(format string, args ...any) { fatalCalled = true }
	openDBFn = func(ctx context.Context, opts store.PostgresOptions) (migrationDBCloser, error) {
		return nil, errors.New("db connection failed")
	}

	main()

	if !fatalCalled {
		t.Fatal("logFatalf should be called on error")
	}
}
