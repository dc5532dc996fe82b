package livewatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router returns the read-only HTTP API.
//
//	GET  /healthz                      liveness
//	GET  /api/snapshot                 last persisted record set
//	GET  /api/history                  removed-record history
//	GET  /api/stats                    last cycle statistics
//	GET  /api/sessions                 session states
//	GET  /api/cycles?limit=N           recent cycle log entries
//	POST /api/sessions/{category}/reopen  force-reopen a parked session
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		snap, err := s.Snapshot()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				writeError(w, http.StatusNotFound, "no snapshot yet")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, snap)
	})

	r.Get("/api/history", func(w http.ResponseWriter, _ *http.Request) {
		hist, err := s.History()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				writeError(w, http.StatusNotFound, "no history yet")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, hist)
	})

	r.Get("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := s.LastStats()
		if stats == nil {
			writeError(w, http.StatusNotFound, "no completed cycle yet")
			return
		}
		writeJSON(w, stats)
	})

	r.Get("/api/sessions", func(w http.ResponseWriter, _ *http.Request) {
		sessions := s.Sessions()
		if sessions == nil {
			sessions = []SessionStatus{}
		}
		writeJSON(w, sessions)
	})

	r.Get("/api/cycles", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 1000 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		cycles, err := s.CycleHistory(req.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if cycles == nil {
			cycles = []*CycleOutcome{}
		}
		writeJSON(w, cycles)
	})

	r.Post("/api/sessions/{category}/reopen", func(w http.ResponseWriter, req *http.Request) {
		category := chi.URLParam(req, "category")
		if err := s.ForceReopen(req.Context(), category); err != nil {
			if errors.Is(err, ErrUnknownCategory) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "scheduled", "category": category})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
