package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Namchee/tanyaaja/pkg/models"
)

type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore serves the directory and question writes from Postgres.
type PostgresStore struct {
	DB pgDB
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (s *PostgresStore) FindBySlug(ctx context.Context, slug string) ([]models.OwnerRecord, error) {
	query, args, err := selectOwnersBySlug(psql, slug).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, query, args...)
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

func (s *PostgresStore) InsertQuestion(ctx context.Context, q models.Question) error {
	query, args, err := insertQuestion(psql, q).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertOwner(ctx context.Context, o models.OwnerRecord) error {
	query, args, err := upsertOwner(psql, o).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert owner: %w", err)
	}
	return nil
}
