package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// QuestionStatusNotStarted is the status every freshly submitted question starts in.
const QuestionStatusNotStarted = "Not started"

// OwnerRecord is the public page owner resolved from a slug.
type OwnerRecord struct {
	ID     string `json:"uid" yaml:"uid"`
	Slug   string `json:"slug" yaml:"slug"`
	Name   string `json:"name" yaml:"name"`
	Image  string `json:"image" yaml:"image"`
	Public bool   `json:"public" yaml:"public"`
}

// Question is the only entity created by the submission pipeline.
type Question struct {
	ID          string    `json:"uuid"`
	OwnerID     string    `json:"uid"`
	Text        string    `json:"question"`
	Status      string    `json:"status"`
	Public      bool      `json:"public"`
	SubmittedAt time.Time `json:"submitted_date"`
}

// SubmissionRequest is the inbound anonymous question body.
type SubmissionRequest struct {
	Slug     string `json:"slug"`
	Question string `json:"question"`
	Token    string `json:"token"`
}

var (
	ErrSlugRequired     = errors.New("slug required")
	ErrQuestionRequired = errors.New("question required")
	ErrQuestionTooLong  = errors.New("question too long")
)

// Normalize trims surrounding whitespace from every field.
func (r SubmissionRequest) Normalize() SubmissionRequest {
	return SubmissionRequest{
		Slug:     strings.TrimSpace(r.Slug),
		Question: strings.TrimSpace(r.Question),
		Token:    strings.TrimSpace(r.Token),
	}
}

// Validate checks the fields that must be present before any external call.
// The token is deliberately not checked here; a missing token is a
// verification outcome, not malformed input.
func (r SubmissionRequest) Validate(maxQuestionRunes int) error {
	if strings.TrimSpace(r.Slug) == "" {
		return ErrSlugRequired
	}
	q := strings.TrimSpace(r.Question)
	if q == "" {
		return ErrQuestionRequired
	}
	if maxQuestionRunes > 0 && utf8.RuneCountInString(q) > maxQuestionRunes {
		return ErrQuestionTooLong
	}
	return nil
}
