// Package repository declares the storage interfaces the service layer
// depends on. The sqlite subpackage implements them; tests may supply fakes.
package repository

import (
	"context"

	"github.com/sakif/pattern-playground/internal/model"
)

// ListOptions pages through snippets. An empty UserID lists everyone's;
// PatternID narrows to pairings started from one catalog pattern.
type ListOptions struct {
	UserID    string
	PatternID string
	Limit     int
	Offset    int
}

type SnippetRepository interface {
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id string) (*model.Snippet, error)
	List(ctx context.Context, opts ListOptions) ([]model.Snippet, error)
	Update(ctx context.Context, snippet *model.Snippet) error
	Delete(ctx context.Context, id string) error

	// FindByFingerprint returns (nil, nil) when the user has no snippet
	// with that fingerprint.
	FindByFingerprint(ctx context.Context, userID, fingerprint string) (*model.Snippet, error)
}

type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}
