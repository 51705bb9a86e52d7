package worker

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// sandboxPath resolves a request path inside the sandbox root. The
// cleaned path must stay under the root; anything that escapes is a
// client error, not a lookup miss.
func (s *Server) sandboxPath(rel string) (string, bool) {
	root := filepath.Clean(s.cfg.Worker.SandboxRoot)
	full := filepath.Join(root, filepath.Clean("/"+rel))
	if full != root && !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		return "", false
	}
	return full, true
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	path, ok := s.sandboxPath(chi.URLParam(r, "*"))
	if !ok {
		apiError(w, "path escapes sandbox", http.StatusBadRequest)
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			apiError(w, "file not found", http.StatusNotFound)
			return
		}
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

func (s *Server) handleFilePut(w http.ResponseWriter, r *http.Request) {
	path, ok := s.sandboxPath(chi.URLParam(r, "*"))
	if !ok {
		apiError(w, "path escapes sandbox", http.StatusBadRequest)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(path, []byte(req.Content), 0644); err != nil {
		apiError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}
