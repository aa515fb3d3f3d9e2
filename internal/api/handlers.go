package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"subflow/internal/logging"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ctrl.Start(r.Context(), req.URL); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("run started via api", logging.String("url", req.URL))
	s.writeMessage(w, http.StatusAccepted, "processing started")
}

func (s *Server) handleStartLocal(w http.ResponseWriter, r *http.Request) {
	var req StartLocalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ctrl.StartLocal(r.Context(), req.File); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMessage(w, http.StatusAccepted, "local processing started")
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Stop()
	s.writeMessage(w, http.StatusOK, "stopped")
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Continue(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.ctrl.Status().Active {
		s.writeMessage(w, http.StatusAccepted, "processing resumed")
		return
	}
	s.writeMessage(w, http.StatusOK, "nothing to resume")
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Burn(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMessage(w, http.StatusAccepted, "burn started")
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Reset(); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMessage(w, http.StatusOK, "reset")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Report: s.ctrl.Status()}
	if s.dependencies != nil {
		resp.Dependencies = s.dependencies()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleLogs pages through the log ring. With wait>0 (seconds) the request
// long-polls until an entry newer than since exists.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit := parseLimit(query.Get("limit"))
	wait, _ := strconv.ParseFloat(query.Get("wait"), 64)

	state := s.ctrl.State()
	entries, next := state.Logs(since, limit)
	if len(entries) == 0 && wait > 0 {
		timeout := min(time.Duration(wait*float64(time.Second)), maxLogWait)
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		var err error
		entries, next, err = state.WaitLogs(ctx, since, limit)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			// Client went away.
			return
		}
	}
	if len(entries) > 0 {
		next = entries[len(entries)-1].Sequence
	}
	s.writeJSON(w, http.StatusOK, LogsResponse{Entries: entries, Next: next})
}

func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultLogLimit
	}
	return min(limit, maxLogLimit)
}
