package worker

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/justinmoon/spool/internal/stream"
)

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func apiError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, map[string]string{"error": message}, status)
}

func parseFrom(r *http.Request) uint64 {
	from, err := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		return 0
	}
	return from
}

type execRequest struct {
	Cmd       []string          `json:"cmd"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMs uint64            `json:"timeout_ms,omitempty"`
}

type statusResponse struct {
	State     string `json:"state"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	SeqLatest uint64 `json:"seq_latest"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Cmd) == 0 {
		apiError(w, "cmd must not be empty", http.StatusBadRequest)
		return
	}

	job, err := StartJob(req.Cmd, req.Cwd, req.Env, time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := NewJobID()
	s.reg.AddJob(id, job)
	log.Printf("started job %s: %v", id, req.Cmd)

	s.bus.JobStarted(id)
	go func() {
		<-job.Done()
		s.bus.JobExited(id, job.ExitCode())
	}()

	jsonResponse(w, map[string]string{
		"job_id":     id,
		"stream_url": fmt.Sprintf("/stream/%s?from=0", id),
		"status_url": fmt.Sprintf("/status/%s", id),
		"cancel_url": fmt.Sprintf("/cancel/%s", id),
	}, http.StatusOK)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.reg.Job(id)
	if job == nil {
		apiError(w, "job not found", http.StatusNotFound)
		return
	}
	stream.ServeNDJSON(w, r, job.Pub, parseFrom(r))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.reg.Job(id)
	if job == nil {
		apiError(w, "job not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, statusResponse{
		State:     job.State(),
		ExitCode:  job.ExitCode(),
		SeqLatest: job.Pub.LatestSeq(),
	}, http.StatusOK)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.reg.RemoveJob(id)
	if job == nil {
		apiError(w, "job not found", http.StatusNotFound)
		return
	}

	job.Kill()
	log.Printf("canceled job %s", id)
	s.bus.JobCanceled(id)
	jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}

type sessionRequest struct {
	Mode    string `json:"mode"`
	Profile string `json:"profile,omitempty"`
	Cols    uint16 `json:"cols,omitempty"`
	Rows    uint16 `json:"rows,omitempty"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode != "interactive" {
		apiError(w, "unsupported session mode", http.StatusBadRequest)
		return
	}

	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 32
	}

	sess, err := StartSession(ResolveProfile(req.Profile), cols, rows)
	if err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := NewSessionID()
	s.reg.AddSession(id, sess)
	log.Printf("started session %s (pid %d, %dx%d)", id, sess.PID(), cols, rows)

	s.bus.SessionStarted(id)
	go func() {
		<-sess.Done()
		s.bus.SessionClosed(id, sess.ExitCode())
	}()

	jsonResponse(w, map[string]string{
		"session_id": id,
		"stream_url": fmt.Sprintf("/sessions/%s/stream?from=0", id),
		"write_url":  fmt.Sprintf("/sessions/%s/write", id),
		"resize_url": fmt.Sprintf("/sessions/%s/resize", id),
		"close_url":  fmt.Sprintf("/sessions/%s/close", id),
	}, http.StatusOK)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string][]string{"sessions": s.reg.SessionIDs()}, http.StatusOK)
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.reg.Session(id)
	if sess == nil {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}
	stream.ServeNDJSON(w, r, sess.Pub, parseFrom(r))
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.reg.Session(id)
	if sess == nil {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, statusResponse{
		State:     sess.State(),
		ExitCode:  sess.ExitCode(),
		SeqLatest: sess.Pub.LatestSeq(),
	}, http.StatusOK)
}

func (s *Server) handleSessionWrite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.reg.Session(id)
	if sess == nil {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}

	var req struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := sess.Write(req.Data); err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (s *Server) handleSessionResize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.reg.Session(id)
	if sess == nil {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}

	var req struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.reg.Session(id)
	if sess == nil {
		apiError(w, "session not found", http.StatusNotFound)
		return
	}

	if err := sess.Close(); err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}
