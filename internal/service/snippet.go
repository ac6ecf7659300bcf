// Package service holds the business rules between the HTTP handlers and
// the storage and sandbox layers.
//
// LAYERING:
//
//	handler  →  service  →  repository / playground
//	(HTTP)      (rules)      (SQL, sandboxes)
//
// Handlers decode and encode; services validate, enforce ownership and log;
// repositories only persist. Errors cross the layers as apperror kinds so
// the handler can pick a status code without knowing where they came from.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/model"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/repository"
)

const (
	MaxSnippetNameLength        = 100
	MaxSnippetDescriptionLength = 1000
	DefaultMaxCodeLength        = 100000
	DefaultListLimit            = 20
	MaxListLimit                = 100
)

// PatternLookup is the slice of *pattern.Catalog the services need.
type PatternLookup interface {
	Get(id string) (pattern.Pattern, error)
}

// SnippetInput is the client-supplied part of a snippet.
type SnippetInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PatternID   string `json:"patternId"`
	CodeA       string `json:"codeA"`
	CodeB       string `json:"codeB"`
}

type SnippetService struct {
	repo          repository.SnippetRepository
	patterns      PatternLookup
	maxCodeLength int
	logger        *slog.Logger
}

// NewSnippetService takes the catalog so a saved pairing can only name a
// pattern that exists. maxCodeLength <= 0 means DefaultMaxCodeLength.
func NewSnippetService(repo repository.SnippetRepository, patterns PatternLookup, maxCodeLength int, logger *slog.Logger) *SnippetService {
	if maxCodeLength <= 0 {
		maxCodeLength = DefaultMaxCodeLength
	}
	return &SnippetService{
		repo:          repo,
		patterns:      patterns,
		maxCodeLength: maxCodeLength,
		logger:        logger,
	}
}

// Create saves a new pairing owned by userID.
//
// Saving the same code twice is a Conflict: the caller gets the existing
// snippet's id in the message and can update that one instead.
func (s *SnippetService) Create(ctx context.Context, userID string, in SnippetInput) (*model.Snippet, error) {
	if userID == "" {
		return nil, apperror.Forbidden("sign in to save snippets")
	}
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	fp := Fingerprint(in.CodeA, in.CodeB)
	existing, err := s.repo.FindByFingerprint(ctx, userID, fp)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate snippet: %w", err)
	}
	if existing != nil {
		return nil, apperror.Conflict("snippet", existing.ID)
	}

	snippet := &model.Snippet{
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		PatternID:   in.PatternID,
		CodeA:       in.CodeA,
		CodeB:       in.CodeB,
		Fingerprint: fp,
	}
	if err := s.repo.Create(ctx, snippet); err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("user", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}

	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.String("user", userID),
		slog.String("pattern", snippet.PatternID),
	)
	return snippet, nil
}

// GetByID is public: anyone with the id can load and run a pairing.
func (s *SnippetService) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *SnippetService) List(ctx context.Context, opts repository.ListOptions) ([]model.Snippet, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	opts.Limit = min(opts.Limit, MaxListLimit)
	opts.Offset = max(opts.Offset, 0)

	snippets, err := s.repo.List(ctx, opts)
	if err != nil {
		s.logger.Error("failed to list snippets", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	return snippets, nil
}

// Update replaces every editable field. Only the owner may update.
func (s *SnippetService) Update(ctx context.Context, userID, id string, in SnippetInput) (*model.Snippet, error) {
	snippet, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	in, err = s.validate(in)
	if err != nil {
		return nil, err
	}

	snippet.Name = in.Name
	snippet.Description = in.Description
	snippet.PatternID = in.PatternID
	snippet.CodeA = in.CodeA
	snippet.CodeB = in.CodeB
	snippet.Fingerprint = Fingerprint(in.CodeA, in.CodeB)

	if err := s.repo.Update(ctx, snippet); err != nil {
		s.logger.Error("failed to update snippet",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating snippet: %w", err)
	}

	s.logger.Info("snippet updated", slog.String("id", snippet.ID))
	return snippet, nil
}

func (s *SnippetService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("snippet deleted", slog.String("id", id), slog.String("user", userID))
	return nil
}

// owned loads the snippet and checks the caller owns it.
func (s *SnippetService) owned(ctx context.Context, userID, id string) (*model.Snippet, error) {
	if userID == "" {
		return nil, apperror.Forbidden("sign in to change snippets")
	}
	snippet, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if snippet.UserID != userID {
		return nil, apperror.Forbidden("you do not own this snippet")
	}
	return snippet, nil
}

// validate trims and checks the input, returning the cleaned copy.
func (s *SnippetService) validate(in SnippetInput) (SnippetInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.PatternID = strings.TrimSpace(in.PatternID)

	switch {
	case in.Name == "":
		return in, apperror.ValidationFailed("name", "snippet name is required")
	case utf8.RuneCountInString(in.Name) > MaxSnippetNameLength:
		return in, apperror.ValidationFailed("name",
			fmt.Sprintf("snippet name must be %d characters or less", MaxSnippetNameLength))
	case utf8.RuneCountInString(in.Description) > MaxSnippetDescriptionLength:
		return in, apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxSnippetDescriptionLength))
	}

	if err := checkCode("codeA", in.CodeA, s.maxCodeLength); err != nil {
		return in, err
	}
	if err := checkCode("codeB", in.CodeB, s.maxCodeLength); err != nil {
		return in, err
	}

	if in.PatternID != "" {
		if _, err := s.patterns.Get(in.PatternID); err != nil {
			if errors.Is(err, pattern.ErrNotFound) {
				return in, apperror.ValidationFailed("patternId",
					fmt.Sprintf("unknown pattern %q", in.PatternID))
			}
			return in, err
		}
	}
	return in, nil
}

// checkCode is shared with the compare service.
func checkCode(field, code string, maxLen int) error {
	if strings.TrimSpace(code) == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	if len(code) > maxLen {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d bytes or less", field, maxLen))
	}
	return nil
}
