package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/SirClappington/checkq/internal/domain"
	"github.com/SirClappington/checkq/internal/wire"
)

// codecFor answers in the encoding the request was sent in, or the one it
// accepts when there is no body.
func codecFor(r *http.Request) wire.Codec {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return wire.ForContentType(ct)
	}
	return wire.ForContentType(r.Header.Get("Accept"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return wire.ForContentType(r.Header.Get("Content-Type")).Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), v)
}

func writeBody(w http.ResponseWriter, r *http.Request, status int, v any) {
	c := codecFor(r)
	w.Header().Set("Content-Type", c.ContentType())
	w.WriteHeader(status)
	_ = c.Encode(w, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeBody(w, r, status, wire.ErrorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCheckClass),
		errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		msg = domain.ErrStoreUnavailable.Error()
	case http.StatusInternalServerError:
		s.logger.Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeError(w, r, status, msg)
}

// allow applies one rate-limit class and writes the 429 itself when denied.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, class, key string) bool {
	if s.limiter == nil {
		return true
	}
	d := s.limiter.Allow(r.Context(), class, key)
	if d.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	}
	if d.Allowed {
		return true
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, r, statusFor(domain.ErrRateLimited), domain.ErrRateLimited.Error())
	return false
}
