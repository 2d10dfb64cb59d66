// Package httpapi exposes the checker contract and the collaborator endpoints
// over HTTP.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/checkq/internal/config"
	"github.com/SirClappington/checkq/internal/ingest"
	"github.com/SirClappington/checkq/internal/lease"
	"github.com/SirClappington/checkq/internal/metrics"
	"github.com/SirClappington/checkq/internal/ratelimit"
	"github.com/SirClappington/checkq/internal/storage"
)

const maxBodyBytes = 1 << 20

type ctxKey int

const agentKey ctxKey = iota

type Deps struct {
	Leases  *lease.Manager
	Ingest  *ingest.Ingestor
	Store   storage.JobStore
	Metrics *metrics.Collector
	Limiter *ratelimit.Limiter
	Auth    *KeyAuth
	Config  config.Source
	Logger  *zap.Logger
}

type Server struct {
	leases  *lease.Manager
	ingest  *ingest.Ingestor
	store   storage.JobStore
	metrics *metrics.Collector
	limiter *ratelimit.Limiter
	auth    *KeyAuth
	cfg     config.Source
	logger  *zap.Logger
}

func NewServer(d Deps) *Server {
	auth := d.Auth
	if auth == nil {
		auth = NewKeyAuth(nil)
	}
	return &Server{
		leases:  d.Leases,
		ingest:  d.Ingest,
		store:   d.Store,
		metrics: d.Metrics,
		limiter: d.Limiter,
		auth:    auth,
		cfg:     d.Config,
		logger:  d.Logger.With(zap.String("component", "http")),
	}
}

func (s *Server) Handler() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.RealIP)
	rtr.Use(s.logRequests)
	rtr.Use(middleware.Recoverer)

	rtr.Get("/healthz", s.handleHealth)

	rtr.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAgent)
			r.Post("/checker/handshake", s.handleHandshake)
			r.With(s.limit(ratelimit.ClassCardCheck, agentBucket)).Post("/checker", s.handleChecker)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.limit(ratelimit.ClassAPI, ipBucket))
			r.Post("/jobs", s.handleEnqueue)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/metrics", s.handleMetrics)
		})
	})
	return rtr
}

// NewHTTPServer wraps the handler with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request", fields...)
			return
		}
		s.logger.Debug("request", fields...)
	})
}

// requireAgent authenticates checker calls. Keys that need a bcrypt check
// are charged to the auth rate-limit class first.
func (s *Server) requireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if s.auth.Enabled() && !s.auth.Cached(key) {
			if !s.allow(w, r, ratelimit.ClassAuth, clientIP(r)) {
				return
			}
			if !s.auth.Verify(key) {
				writeError(w, r, http.StatusUnauthorized, "invalid checker key")
				return
			}
		}
		id := "anonymous"
		if key != "" {
			id = agentID(key)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey, id)))
	})
}

type bucketFunc func(*http.Request) string

func agentBucket(r *http.Request) string {
	if id, ok := r.Context().Value(agentKey).(string); ok {
		return id
	}
	return clientIP(r)
}

func ipBucket(r *http.Request) string { return clientIP(r) }

func (s *Server) limit(class string, bucket bucketFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.allow(w, r, class, bucket(r)) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
