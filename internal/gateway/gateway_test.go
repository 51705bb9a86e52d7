package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/justinmoon/spool/internal/config"
	"github.com/justinmoon/spool/internal/stream"
	"github.com/justinmoon/spool/internal/worker"
)

const testToken = "tok_test"

// newTestRig stands up a real worker and a gateway pointed at it.
func newTestRig(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	workerCfg := config.DefaultConfig()
	workerCfg.Worker.SandboxRoot = t.TempDir()
	ws, err := worker.NewServer(workerCfg, nil)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	workerTS := httptest.NewServer(ws.Router())
	t.Cleanup(workerTS.Close)

	cfg := config.DefaultConfig()
	cfg.Gateway.LongpollMs = 2000
	cfg.Gateway.Tokens = []config.TokenEntry{{
		Token:       testToken,
		UserID:      "user_test",
		WorkspaceID: "ws_test",
		NodeURL:     workerTS.URL,
	}}

	gw := NewServer(cfg)
	gwTS := httptest.NewServer(gw.Router())
	t.Cleanup(gwTS.Close)
	return gw, gwTS
}

func doRequest(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestRig(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/terminal", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/terminal", "tok_bogus", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", resp.StatusCode)
	}

	// Health stays public.
	resp = doRequest(t, http.MethodGet, ts.URL+"/health", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
}

func TestTerminalExecuteAndCursor(t *testing.T) {
	gw, ts := newTestRig(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/terminal", testToken,
		map[string]string{"cmd": "echo ga\"\"teway-marker"})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Running bool           `json:"running"`
		Frames  []stream.Frame `json:"frames"`
		Message string         `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	found := false
	for _, f := range result.Frames {
		if f.T == stream.KindStdout && strings.Contains(f.D, "gateway-marker") {
			found = true
		}
	}
	if !found {
		t.Fatalf("marker missing from frames: %+v", result.Frames)
	}

	agent := AgentContext{UserID: "user_test", WorkspaceID: "ws_test"}
	if gw.mgr.cursor(agent) == 0 {
		t.Fatal("cursor did not advance")
	}
}

func TestTerminalValidation(t *testing.T) {
	_, ts := newTestRig(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/terminal", testToken, map[string]string{"cmd": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty cmd status %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/terminal/signal", testToken,
		map[string]string{"signal": "NOPE"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unknown signal status %d", resp.StatusCode)
	}
}

func TestFilesProxy(t *testing.T) {
	_, ts := newTestRig(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/files/out/result.txt", testToken,
		map[string]string{"content": "proxied"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status %d", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/files/out/result.txt", testToken, nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "proxied" {
		t.Fatalf("content %q", body)
	}
}

func TestVersion(t *testing.T) {
	_, ts := newTestRig(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/version", "", nil)
	var v struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if v.Name != "spool-gateway" {
		t.Fatalf("name %q", v.Name)
	}
}
