package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pattern-playground/internal/apperror"
	"github.com/sakif/pattern-playground/internal/auth"
	"github.com/sakif/pattern-playground/internal/repository"
	"github.com/sakif/pattern-playground/internal/service"
)

// SnippetHandler serves saved pairings. Reads are public; writes need a
// signed-in user, who becomes the owner.
type SnippetHandler struct {
	snippets *service.SnippetService
	compare  *service.CompareService
	logger   *slog.Logger
}

func NewSnippetHandler(snippets *service.SnippetService, compare *service.CompareService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, compare: compare, logger: logger}
}

// HandleList is GET /api/snippets?mine=true&patternId=...&limit=...&offset=...
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := repository.ListOptions{
		PatternID: r.URL.Query().Get("patternId"),
		Limit:     limit,
		Offset:    offset,
	}
	if r.URL.Query().Get("mine") == "true" {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeError(w, apperror.Forbidden("sign in to list your snippets"))
			return
		}
		opts.UserID = userID
	}

	snippets, err := h.snippets.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippets)
}

func (h *SnippetHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	snippet, err := h.snippets.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.SnippetInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	snippet, err := h.snippets.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snippet)
}

func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in service.SnippetInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	snippet, err := h.snippets.Update(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snippet)
}

func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := h.snippets.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRun is POST /api/snippets/{id}/run: a one-shot comparison of the
// saved code, same response shape as POST /api/compare.
func (h *SnippetHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	snippet, err := h.snippets.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.compare.Compare(r.Context(), service.CompareRequest{
		CodeA: snippet.CodeA,
		CodeB: snippet.CodeB,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("snippet run",
		slog.String("id", snippet.ID),
		slog.String("session", result.SessionID),
	)
	writeJSON(w, http.StatusOK, result)
}
