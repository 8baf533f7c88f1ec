// Package slugapi serves the content slug registry and the pages bound to
// it as a small read-only JSON API.
package slugapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/vitesheet/internal/content"
	"github.com/keithlinneman/vitesheet/internal/log"
	"github.com/keithlinneman/vitesheet/internal/slug"
)

// SnapshotProvider is satisfied by *content.Manager.
type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

// LookupObserver counts slug lookups by result.
type LookupObserver interface {
	ObserveSlugLookup(result string)
}

// Lookup results, matching the metrics labels.
const (
	resultValid     = "valid"
	resultUnknown   = "unknown"
	resultMalformed = "malformed"
)

type Options struct {
	Content SnapshotProvider
	Logger  log.Logger
	Metrics LookupObserver
}

type API struct {
	content SnapshotProvider
	logger  log.Logger
	metrics LookupObserver
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &API{content: opts.Content, logger: opts.Logger, metrics: opts.Metrics}
}

// RegisterRoutes attaches the API to r.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/slugs", api.HandleList)
	r.Get("/api/slugs/{slug}", api.HandleLookup)
	r.Get("/api/pages/{slug}", api.HandlePage)
	r.Get("/api/content/summary", api.HandleSummary)
}

type ListResponse struct {
	Count int      `json:"count"`
	Slugs []string `json:"slugs"`
}

type LookupResponse struct {
	Slug  string        `json:"slug"`
	Valid bool          `json:"valid"`
	Page  *content.Page `json:"page"`
	Error string        `json:"error,omitempty"`
}

type SummaryResponse struct {
	Source     content.Source `json:"source"`
	Version    string         `json:"version,omitempty"`
	Hash       string         `json:"hash,omitempty"`
	Signed     bool           `json:"signed"`
	LoadedAt   time.Time      `json:"loaded_at"`
	VerifiedAt time.Time      `json:"verified_at,omitzero"`
	Pages      int            `json:"pages"`
	Registered int            `json:"registered"`
	Complete   bool           `json:"complete"`
	Missing    []slug.Slug    `json:"missing"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleList returns every registered slug, sorted.
func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, ListResponse{Count: slug.Len(), Slugs: slug.Strings()})
}

// HandleLookup reports whether the path slug is registered and, when the
// active snapshot has one, its page.
func (api *API) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "slug")

	id, status, result := classify(raw)
	api.observe(result)
	if status != http.StatusOK {
		api.writeJSON(ctx, w, status, LookupResponse{Slug: raw, Error: lookupError(result)})
		return
	}

	resp := LookupResponse{Slug: raw, Valid: true}
	if snap, ok := api.content.Get(); ok && snap.Index != nil {
		if p, found := snap.Index.Lookup(id); found {
			resp.Page = &p
		}
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandlePage serves the raw markdown for the path slug.
func (api *API) HandlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "slug")

	id, status, result := classify(raw)
	api.observe(result)
	if status != http.StatusOK {
		api.writeJSON(ctx, w, status, errorResponse{Error: lookupError(result)})
		return
	}

	snap, ok := api.content.Get()
	if !ok {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "no content loaded"})
		return
	}
	data, p, err := snap.Page(id)
	if err != nil {
		if errors.Is(err, content.ErrPageNotFound) {
			api.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "no page for slug"})
			return
		}
		api.logger.Error(ctx, err, "read page failed", "slug", id)
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/markdown; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	if snap.Meta.Hash != "" {
		h.Set("ETag", `"`+snap.Meta.Hash[:min(16, len(snap.Meta.Hash))]+"-"+string(id)+`"`)
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == h.Get("ETag") {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		if _, err := w.Write(data); err != nil {
			api.logger.Warn(ctx, "write page failed", "slug", id, "path", p.Path, "error", err)
		}
	}
}

// HandleSummary describes the active snapshot and its slug coverage.
func (api *API) HandleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, ok := api.content.Get()
	if !ok {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "no content loaded"})
		return
	}

	resp := SummaryResponse{
		Source:     snap.Meta.Source,
		Version:    snap.Meta.Version,
		Hash:       snap.Meta.Hash,
		Signed:     snap.Meta.Signed,
		LoadedAt:   snap.LoadedAt.UTC().Truncate(time.Second),
		VerifiedAt: snap.Meta.VerifiedAt.UTC().Truncate(time.Second),
		Registered: slug.Len(),
		Missing:    slug.All(),
	}
	if snap.Index != nil {
		resp.Pages = snap.Index.Len()
		resp.Complete = snap.Index.Complete()
		resp.Missing = snap.Index.Missing()
	}
	if resp.Missing == nil {
		resp.Missing = []slug.Slug{}
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// classify maps a raw path segment to a slug, an HTTP status and a
// lookup result.
func classify(raw string) (slug.Slug, int, string) {
	id, err := slug.Parse(raw)
	switch {
	case err == nil:
		return id, http.StatusOK, resultValid
	case errors.Is(err, slug.ErrUnknown):
		return "", http.StatusNotFound, resultUnknown
	default:
		return "", http.StatusBadRequest, resultMalformed
	}
}

func lookupError(result string) string {
	if result == resultUnknown {
		return "unknown content slug"
	}
	return "malformed content slug"
}

func (api *API) observe(result string) {
	if api.metrics != nil {
		api.metrics.ObserveSlugLookup(result)
	}
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
