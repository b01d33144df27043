// Package api exposes catalog search, bulk preview and tender storage over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/catalog"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/reconcile"
	"github.com/sells-group/tender-cli/internal/store"
)

const maxBodyBytes = 1 << 20

// TenderStore is the persistence surface the API needs.
// *store.FallbackStore satisfies it.
type TenderStore interface {
	Save(ctx context.Context, p store.SaveParams) (model.SaveResult, error)
	Get(ctx context.Context, id string, storage model.Storage) (*model.TenderDetail, error)
	List(ctx context.Context, filter store.ListFilter) ([]model.TenderSummary, error)
	SearchLineSuggestions(ctx context.Context, q store.SuggestionQuery) ([]model.LineSuggestion, error)
}

// Server holds the handler dependencies.
type Server struct {
	catalog    *catalog.Index
	reconciler *reconcile.Reconciler
	store      TenderStore
	origins    []string
}

// NewServer creates a Server. allowedOrigins feeds the CORS policy; empty
// allows any origin.
func NewServer(index *catalog.Index, reconciler *reconcile.Reconciler, st TenderStore, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{catalog: index, reconciler: reconciler, store: st, origins: allowedOrigins}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/catalog", func(r chi.Router) {
		r.Get("/search", s.searchCatalog)
		r.Post("/items", s.createCatalogItem)
	})
	r.Post("/bulk/preview", s.bulkPreview)
	r.Route("/tenders", func(r chi.Router) {
		r.Get("/", s.listTenders)
		r.Post("/", s.saveTender)
		r.Get("/suggestions", s.lineSuggestions)
		r.Get("/{id}", s.getTender)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) searchCatalog(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", catalog.DefaultSearchLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matches": s.catalog.Search(r.URL.Query().Get("q"), limit),
	})
}

func (s *Server) createCatalogItem(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewItem
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	item, err := s.catalog.Create(in, s.reconciler.Config().FallbackUnit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type bulkPreviewRequest struct {
	Text    string `json:"text"`
	Promote bool   `json:"promote"`
}

type bulkPreviewResponse struct {
	Rows    []model.BulkPreviewRow `json:"rows"`
	Created []model.CatalogItem    `json:"created,omitempty"`
}

func (s *Server) bulkPreview(w http.ResponseWriter, r *http.Request) {
	var req bulkPreviewRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.reconciler.Parse(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := bulkPreviewResponse{Rows: s.reconciler.Preview(rows)}
	if req.Promote {
		resp.Rows, resp.Created = s.reconciler.PromoteUnmatched(resp.Rows)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listTenders(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.store.List(r.Context(), store.ListFilter{
		ProjectID: r.URL.Query().Get("project_id"),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []model.TenderSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenders": rows})
}

func (s *Server) lineSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.store.SearchLineSuggestions(r.Context(), store.SuggestionQuery{
		Query:     r.URL.Query().Get("q"),
		ProjectID: r.URL.Query().Get("project_id"),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []model.LineSuggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": rows})
}

func (s *Server) getTender(w http.ResponseWriter, r *http.Request) {
	storage, err := model.ParseStorage(r.URL.Query().Get("storage"))
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	d, err := s.store.Get(r.Context(), id, storage)
	if err != nil {
		writeError(w, err)
		return
	}
	if d == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "tender not found"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) saveTender(w http.ResponseWriter, r *http.Request) {
	var p store.SaveParams
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.store.Save(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps validation errors to 400 and hides everything else
// behind a 500.
func writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Message, Field: ve.Field})
		return
	}
	zap.L().Error("api: request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return model.Invalid("body", "invalid request body: %v", err)
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
