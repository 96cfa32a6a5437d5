package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/Namchee/tanyaaja/pkg/models"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS owners (
		uid TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		public BOOLEAN NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS owners_slug_idx ON owners(slug)`,
	`CREATE TABLE IF NOT EXISTS questions (
		uuid TEXT PRIMARY KEY,
		uid TEXT NOT NULL REFERENCES owners(uid) ON DELETE CASCADE,
		question TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Not started',
		public BOOLEAN NOT NULL DEFAULT 0,
		submitted_date TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS questions_uid_idx ON questions(uid, submitted_date)`,
}

// SQLiteStore is the single-node backend used for local development.
type SQLiteStore struct {
	DB *sql.DB
}

// OpenSQLite opens dsn with foreign keys on and applies the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrNoDatabase
	}
	if !strings.Contains(dsn, "foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) Close() error { return s.DB.Close() }

func (s *SQLiteStore) FindBySlug(ctx context.Context, slug string) ([]models.OwnerRecord, error) {
	rows, err := selectOwnersBySlug(sq.StatementBuilder, slug).RunWith(s.DB).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()
	var out []models.OwnerRecord
	for rows.Next() {
		var o models.OwnerRecord
		if err := rows.Scan(&o.ID, &o.Slug, &o.Name, &o.Image, &o.Public); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owners: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertQuestion(ctx context.Context, q models.Question) error {
	if _, err := insertQuestion(sq.StatementBuilder, q).RunWith(s.DB).ExecContext(ctx); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertOwner(ctx context.Context, o models.OwnerRecord) error {
	if _, err := upsertOwner(sq.StatementBuilder, o).RunWith(s.DB).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert owner: %w", err)
	}
	return nil
}
