package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/searcher"
	"github.com/dshills/massindex/internal/storage"
)

// StatusReporter summarizes the committed index.
type StatusReporter interface {
	Status(ctx context.Context) (*storage.IndexStatus, error)
}

type RunHandler struct {
	logger  *slog.Logger
	manager *runs.Manager
}

func NewRunHandler(logger *slog.Logger, m *runs.Manager) *RunHandler {
	return &RunHandler{logger: logger, manager: m}
}

func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.manager.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   list,
		"total":  len(list),
		"active": h.manager.Active(),
	})
}

// Start triggers a run. An empty body starts a run over every type.
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req runs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIError(w, h.logger, invalidRequestBody(err))
		return
	}

	status, err := h.manager.Start(req)
	if err != nil {
		writeAPIError(w, h.logger, fromError(err))
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+status.ID)
	writeJSON(w, http.StatusAccepted, status)
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Get(chi.URLParam(r, "runID"))
	if err != nil {
		writeAPIError(w, h.logger, fromError(err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Cancel(chi.URLParam(r, "runID"))
	if err != nil {
		writeAPIError(w, h.logger, fromError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

type SearchHandler struct {
	logger   *slog.Logger
	searcher *searcher.Searcher
	index    StatusReporter
}

func NewSearchHandler(logger *slog.Logger, s *searcher.Searcher, index StatusReporter) *SearchHandler {
	return &SearchHandler{logger: logger, searcher: s, index: index}
}

// Search answers GET /search?q=...&type=Book&type=Article&limit=10.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var typeNames []string
	for _, t := range q["type"] {
		for _, name := range strings.Split(t, ",") {
			if name = strings.TrimSpace(name); name != "" {
				typeNames = append(typeNames, name)
			}
		}
	}

	resp, err := h.searcher.Search(r.Context(), searcher.SearchRequest{
		Query:    q.Get("q"),
		Types:    typeNames,
		Limit:    limit,
		UseCache: q.Get("nocache") == "",
	})
	if err != nil {
		writeAPIError(w, h.logger, fromError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SearchHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.index.Status(r.Context())
	if err != nil {
		writeAPIError(w, h.logger, fromError(err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
