package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/pattern"
)

// PatternHandler serves the read-only catalog.
type PatternHandler struct {
	catalog *pattern.Catalog
}

func NewPatternHandler(catalog *pattern.Catalog) *PatternHandler {
	return &PatternHandler{catalog: catalog}
}

// HandleList is GET /api/patterns. Summaries only; no code.
func (h *PatternHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.List())
}

// HandleGet is GET /api/patterns/{id}, with both code strings.
func (h *PatternHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.catalog.Get(id)
	if err != nil {
		if errors.Is(err, pattern.ErrNotFound) {
			err = apperror.NotFound("pattern", id)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
