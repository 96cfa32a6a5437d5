// Package store holds the owner directory and question persistence
// collaborators of the submission pipeline.
package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/Namchee/tanyaaja/pkg/models"
)

// Directory resolves a public slug to zero or more owners, oldest first.
type Directory interface {
	FindBySlug(ctx context.Context, slug string) ([]models.OwnerRecord, error)
}

// QuestionWriter persists one accepted question.
type QuestionWriter interface {
	InsertQuestion(ctx context.Context, q models.Question) error
}

// OwnerSeeder creates or refreshes an owner record.
type OwnerSeeder interface {
	UpsertOwner(ctx context.Context, o models.OwnerRecord) error
}

const upsertOwnerSuffix = "ON CONFLICT (uid) DO UPDATE SET slug = excluded.slug, name = excluded.name, image = excluded.image, public = excluded.public"

func selectOwnersBySlug(b sq.StatementBuilderType, slug string) sq.SelectBuilder {
	return b.Select("uid", "slug", "name", "image", "public").
		From("owners").
		Where(sq.Eq{"slug": slug}).
		OrderBy("created_at ASC", "uid ASC")
}

func insertQuestion(b sq.StatementBuilderType, q models.Question) sq.InsertBuilder {
	return b.Insert("questions").
		Columns("uuid", "uid", "question", "status", "public", "submitted_date").
		Values(q.ID, q.OwnerID, q.Text, q.Status, q.Public, q.SubmittedAt)
}

func upsertOwner(b sq.StatementBuilderType, o models.OwnerRecord) sq.InsertBuilder {
	return b.Insert("owners").
		Columns("uid", "slug", "name", "image", "public").
		Values(o.ID, o.Slug, o.Name, o.Image, o.Public).
		Suffix(upsertOwnerSuffix)
}
