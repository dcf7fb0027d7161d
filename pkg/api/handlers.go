package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openpuc/scrapers/pkg/schedule"
	"github.com/openpuc/scrapers/pkg/scrapers"
	"github.com/openpuc/scrapers/pkg/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz mirrors the deployment health checks: database and broker
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if err := pingRedis(ctx, s.queue.Client()); err != nil {
		checks["redis"] = err.Error()
		ready = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func (s *Server) handleScrapers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"scrapers": scrapers.Names()})
}

type createRunRequest struct {
	Scraper string `json:"scraper"`
	After   string `json:"after,omitempty"` // RFC3339 or 2006-01-02
}

func parseAfter(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) handleRunsCreate(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if !registered(req.Scraper) {
		writeError(w, http.StatusBadRequest, "unknown_scraper")
		return
	}

	after, err := parseAfter(req.After)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_after")
		return
	}

	mode := store.ModeAll
	if after != nil {
		mode = store.ModeSinceLast
	}

	run, err := schedule.Enqueue(r.Context(), s.store, s.queue, req.Scraper, mode, after, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("scraper", req.Scraper).Msg("failed to enqueue run")
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}

	subject := ""
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		subject = claims.Subject
	}
	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("scraper", run.Scraper).
		Str("subject", subject).
		Msg("run requested")

	writeJSON(w, http.StatusAccepted, run)
}

func registered(name string) bool {
	for _, n := range scrapers.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Server) handleRunsList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("scraper"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) runFromURL(w http.ResponseWriter, r *http.Request) (*store.ScrapeRun, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return nil, false
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return nil, false
	}
	return run, true
}

func (s *Server) handleRunsGet(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromURL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunCases(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromURL(w, r)
	if !ok {
		return
	}

	cases, err := s.store.ListCases(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "cases": cases})
}
