package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/pattern-playground/internal/auth"
	"github.com/sakif/pattern-playground/internal/service"
)

// CompareHandler serves one-shot comparisons: POST the code, wait for the
// cycle, get every output line and the summary back in one JSON body.
type CompareHandler struct {
	compare *service.CompareService
	logger  *slog.Logger
}

func NewCompareHandler(compare *service.CompareService, logger *slog.Logger) *CompareHandler {
	return &CompareHandler{compare: compare, logger: logger}
}

// HandleCompare is POST /api/compare.
//
//	{"patternId":"memoization"}
//	{"codeA":"...","codeB":"..."}
//
// A cycle that fails part-way still answers 200; the result's error field
// and its last entry say what went wrong.
func (h *CompareHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	var req service.CompareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	h.logger.Info("comparison requested",
		slog.String("pattern", req.PatternID),
		slog.String("user", userID),
	)

	result, err := h.compare.Compare(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
