// Package api exposes a session's stored tables over HTTP.
//
// Routes:
//
//	GET    /health
//	GET    /tables?namespace=ns              list registered tables
//	POST   /tables/{ns}/{name}               open or create (OpenRequest)
//	DELETE /tables/{ns}/{name}               destroy
//	GET    /tables/{ns}/{name}/count
//	GET    /tables/{ns}/{name}/collect       ?limit=n&keys_only=true
//	GET    /tables/{ns}/{name}/stats
//	GET    /tables/{ns}/{name}/keys/{key}
//	PUT    /tables/{ns}/{name}/keys/{key}    raw body; ?if_absent=true
//	DELETE /tables/{ns}/{name}/keys/{key}
//	POST   /parallelize                      ParallelizeRequest
//	POST   /cleanup                          CleanupRequest
//
// Transformations take Go functions and are not reachable over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dreamware/dtable/internal/kv"
	"github.com/dreamware/dtable/internal/registry"
	"github.com/dreamware/dtable/internal/session"
	"github.com/dreamware/dtable/internal/store"
	"github.com/dreamware/dtable/internal/table"
)

const (
	contentTypeJSON        = "application/json"
	defaultListen          = ":8080"
	defaultShutdownTimeout = time.Second * 5
	maxValueBytes          = 32 << 20
)

type iSession interface {
	Table(ctx context.Context, name, namespace string, opts session.TableOptions) (table.Table, error)
	Parallelize(ctx context.Context, pairs []kv.Pair, opts session.ParallelizeOptions) (table.Table, error)
	Cleanup(ctx context.Context, pattern, namespace string) (int, error)
	List(namespace string) []registry.Identity
	TableStats(ctx context.Context, namespace, name string) (store.TableStats, error)
}

// Server serves one session.
type Server struct {
	session    iSession
	logger     *slog.Logger
	httpServer *http.Server
	addr       string
}

// NewServer creates a server listening on listen once started.
func NewServer(sess iSession, listen string, logger *slog.Logger) *Server {
	if listen == "" {
		listen = defaultListen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{session: sess, logger: logger, addr: listen}
}

// Start serves in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "addr", s.addr)
	return nil
}

// Stop shuts the server down, waiting up to five seconds for requests.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Post("/parallelize", s.handleParallelize)
	r.Post("/cleanup", s.handleCleanup)

	r.Route("/tables", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{namespace}/{name}", func(r chi.Router) {
			r.Post("/", s.handleOpen)
			r.Delete("/", s.handleDestroy)
			r.Get("/count", s.handleCount)
			r.Get("/collect", s.handleCollect)
			r.Get("/stats", s.handleStats)
			r.Get("/keys/{key}", s.handleGet)
			r.Put("/keys/{key}", s.handlePut)
			r.Delete("/keys/{key}", s.handleDelete)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), NewErrorResponse(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrTableExists):
		return http.StatusConflict
	case errors.Is(err, table.ErrSerializationBoundary):
		return http.StatusUnprocessableEntity
	case errors.Is(err, table.ErrConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// existing opens a registered table named by the route.
func (s *Server) existing(r *http.Request) (table.Table, error) {
	return s.session.Table(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "namespace"),
		session.TableOptions{NoCreate: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tables := s.session.List(r.URL.Query().Get("namespace"))
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Tables: tables, Count: len(tables)})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("invalid json"))
			return
		}
	}
	t, err := s.session.Table(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "namespace"),
		session.TableOptions{
			Partitions:   req.Partitions,
			NoCreate:     req.NoCreate,
			ErrorIfExist: req.ErrorIfExist,
		})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewTableResponse(t.Descriptor()))
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	t, err := s.existing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := t.Destroy(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	t, err := s.existing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := t.Count(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewCountResponse(n))
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	keysOnly := q.Get("keys_only") == "true"

	t, err := s.existing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var pairs []kv.Pair
	if limit > 0 {
		pairs, err = t.Take(r.Context(), limit, keysOnly)
	} else {
		pairs, err = drain(r.Context(), t, keysOnly)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewPairsResponse(pairs))
}

func drain(ctx context.Context, t table.Table, keysOnly bool) ([]kv.Pair, error) {
	it, err := t.Collect(ctx, 0)
	if err != nil {
		return nil, err
	}
	pairs, err := it.Drain()
	if err != nil {
		return nil, err
	}
	if keysOnly {
		return kv.KeysOnly(pairs), nil
	}
	return pairs, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session.TableStats(r.Context(), chi.URLParam(r, "namespace"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Stats: &stats})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.existing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	value, found, err := t.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(value, true))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read value"))
		return
	}
	t, err := s.existing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	key := chi.URLParam(r, "key")
	if r.URL.Query().Get("if_absent") == "true" {
		stored, err := t.PutIfAbsent(r.Context(), key, value)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, NewValueResponse(stored, false))
		return
	}

	prev, existed, err := t.Put(r.Context(), key, value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(prev, existed))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	t, err := s.existing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	removed, existed, err := t.Delete(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(removed, existed))
}

func (s *Server) handleParallelize(w http.ResponseWriter, r *http.Request) {
	var req ParallelizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("invalid json"))
		return
	}
	t, err := s.session.Parallelize(r.Context(), req.Pairs, session.ParallelizeOptions{
		Name:       req.Name,
		Namespace:  req.Namespace,
		Partitions: req.Partitions,
		Persistent: true,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewTableResponse(t.Descriptor()))
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("invalid json"))
		return
	}
	n, err := s.session.Cleanup(r.Context(), req.Pattern, req.Namespace)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewCountResponse(n))
}
