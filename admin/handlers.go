package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	defaultLimit = 256
	maxLimit     = 1024

	inspectTimeout = 5 * time.Second
)

// CursorSource reports publisher progress
type CursorSource interface {
	Cursors() map[string]uint64
	LastSeq() uint64
}

// Handlers serves the admin API over registered models
type Handlers struct {
	models    *xsync.MapOf[string, ModelView]
	publisher CursorSource
}

// NewHandlers creates handlers. publisher may be nil when no sinks are configured.
func NewHandlers(publisher CursorSource) *Handlers {
	return &Handlers{
		models:    xsync.NewMapOf[string, ModelView](),
		publisher: publisher,
	}
}

// Register exposes a model under its symbol, replacing any previous one
func (h *Handlers) Register(view ModelView) {
	h.models.Store(view.Symbol(), view)
}

// Unregister removes the model for symbol
func (h *Handlers) Unregister(symbol string) {
	h.models.Delete(symbol)
}

type modelSummary struct {
	Symbol    string `json:"symbol"`
	Size      int    `json:"size"`
	Pending   int    `json:"pending"`
	SizeLimit int    `json:"size_limit"`
	Sources   []int  `json:"sources"`
}

func (h *Handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	summaries := make([]modelSummary, 0, h.models.Size())
	h.models.Range(func(symbol string, view ModelView) bool {
		size, pending := view.Stats()
		sources := view.Sources()
		if sources == nil {
			sources = []int{}
		}
		summaries = append(summaries, modelSummary{
			Symbol:    symbol,
			Size:      size,
			Pending:   pending,
			SizeLimit: view.SizeLimit(),
			Sources:   sources,
		})
		return true
	})
	slices.SortFunc(summaries, func(a, b modelSummary) int {
		return strings.Compare(a.Symbol, b.Symbol)
	})

	writeJSONResponse(w, summaries, false, "")
}

func (h *Handlers) handleEntries(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	view, ok := h.models.Load(symbol)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("model '%s' not found", symbol))
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseFrom(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), inspectTimeout)
	defer cancel()

	rows, total, err := view.Rows(ctx, from, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if rows == nil {
		rows = []Row{}
	}

	next := ""
	hasMore := from+len(rows) < total
	if hasMore {
		next = strconv.Itoa(from + len(rows))
	}

	body, err := encodeResponse(rows, hasMore, next)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

type cursorsResponse struct {
	LastSeq uint64            `json:"last_seq"`
	Cursors map[string]uint64 `json:"cursors"`
}

func (h *Handlers) handleCursors(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeErrorResponse(w, http.StatusNotFound, "publisher not configured")
		return
	}
	writeJSONResponse(w, cursorsResponse{
		LastSeq: h.publisher.LastSeq(),
		Cursors: h.publisher.Cursors(),
	}, false, "")
}

func encodeResponse(data any, hasMore bool, next string) ([]byte, error) {
	response := map[string]any{
		"data": data,
	}
	if hasMore || next != "" {
		response["has_more"] = hasMore
		if next != "" {
			response["next"] = next
		}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(response); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data any, hasMore bool, next string) {
	body, err := encodeResponse(data, hasMore, next)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		writeErrorResponse(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > maxLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxLimit)
	}
	return limit, nil
}

// parseFrom parses the starting position for pagination
func parseFrom(r *http.Request) (int, error) {
	fromStr := r.URL.Query().Get("from")
	if fromStr == "" {
		return 0, nil
	}

	from, err := strconv.Atoi(fromStr)
	if err != nil || from < 0 {
		return 0, fmt.Errorf("invalid from parameter: %s", fromStr)
	}
	return from, nil
}
