package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SirClappington/checkq/internal/domain"
	"github.com/SirClappington/checkq/internal/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeBody(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeBody(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChecker serves the three agent operations on one endpoint.
func (s *Server) handleChecker(w http.ResponseWriter, r *http.Request) {
	var req wire.CheckerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Type {
	case wire.OpFetch:
		b, err := s.leases.FetchBatch(r.Context(), req.Amount, req.CheckClass)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeBody(w, r, http.StatusOK, wire.FetchResponse{
			Jobs:   wire.NewCheckerJobs(b.Jobs),
			Lease:  b.Lease,
			Paused: b.Paused,
		})

	case wire.OpReport:
		out, err := s.ingest.ReportResult(r.Context(), req.ID, req.Lease, domain.Status(req.Status), req.Message)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeBody(w, r, http.StatusOK, wire.ReportResponse{
			Accepted: out == domain.Accepted,
			Outcome:  out.String(),
		})

	case wire.OpExtend:
		ok, err := s.leases.ExtendLease(r.Context(), req.ID, req.Lease)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeBody(w, r, http.StatusOK, wire.ExtendResponse{Extended: ok})

	default:
		writeError(w, r, http.StatusBadRequest, "unknown operation type")
	}
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req wire.HandshakeRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	rt := s.cfg.Current()
	id, _ := r.Context().Value(agentKey).(string)
	s.logger.Info("checker handshake", zap.String("agent", id), zap.String("agent_name", req.AgentID))
	writeBody(w, r, http.StatusOK, wire.HandshakeResponse{
		AgentID:             id,
		CheckClasses:        rt.CheckClasses,
		BatchSize:           rt.BatchSize,
		LeaseTimeoutSeconds: rt.LeaseTimeoutSeconds,
	})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req wire.EnqueueRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	in := make([]domain.NewJob, len(req.Jobs))
	for i, it := range req.Jobs {
		in[i] = it.NewJob()
	}
	jobs, err := s.leases.Enqueue(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := wire.EnqueueResponse{Jobs: make([]wire.JobView, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = wire.NewJobView(j)
	}
	writeBody(w, r, http.StatusAccepted, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrJobNotFound) {
		writeError(w, r, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeDomainError(w, r, errors.Join(domain.ErrStoreUnavailable, err))
		return
	}
	writeBody(w, r, http.StatusOK, wire.NewJobView(j))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeBody(w, r, http.StatusOK, s.metrics.Snapshot())
}
