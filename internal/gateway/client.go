package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/justinmoon/spool/internal/stream"
)

// ErrSessionGone means the worker no longer knows the session id we
// hold; the caller should drop its mapping and start a fresh one.
var ErrSessionGone = errors.New("session gone")

// NodeClient talks to one or more worker hosts. It deliberately has no
// client-wide timeout: stream reads are bounded per request by the
// caller's context.
type NodeClient struct {
	http *http.Client
}

func NewNodeClient() *NodeClient {
	return &NodeClient{http: &http.Client{}}
}

func (c *NodeClient) postJSON(ctx context.Context, url string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionGone
	}
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// StartSession creates an interactive session on the worker and returns
// its id.
func (c *NodeClient) StartSession(ctx context.Context, nodeURL, profile string, cols, rows uint16) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	body := map[string]interface{}{
		"mode":    "interactive",
		"profile": profile,
		"cols":    cols,
		"rows":    rows,
	}
	url := strings.TrimSuffix(nodeURL, "/") + "/sessions"
	if err := c.postJSON(ctx, url, body, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("worker returned no session id")
	}
	return resp.SessionID, nil
}

// Write sends bytes to the session's PTY.
func (c *NodeClient) Write(ctx context.Context, nodeURL, sessionID, data string) error {
	url := fmt.Sprintf("%s/sessions/%s/write", strings.TrimSuffix(nodeURL, "/"), sessionID)
	return c.postJSON(ctx, url, map[string]string{"data": data}, nil)
}

// ReadStream attaches to the session stream at the given cursor and
// collects frames until the budget elapses or the stream terminates.
// It returns the frames plus the highest sequence number seen, so the
// caller can advance its cursor.
func (c *NodeClient) ReadStream(ctx context.Context, nodeURL, sessionID string, from uint64, budget time.Duration) ([]stream.Frame, uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	url := fmt.Sprintf("%s/sessions/%s/stream?from=%d", strings.TrimSuffix(nodeURL, "/"), sessionID, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, from, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, from, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, from, ErrSessionGone
	}
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return nil, from, fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var frames []stream.Frame
	last := from

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f stream.Frame
		if err := json.Unmarshal(line, &f); err != nil {
			continue
		}
		if f.Seq == 0 {
			continue // banner
		}
		if f.Seq <= from {
			continue
		}
		frames = append(frames, f)
		if f.Seq > last {
			last = f.Seq
		}
		if f.Terminal() {
			break
		}
	}
	// The budget elapsing mid-read surfaces as a scanner error; that is
	// the normal end of a long poll, not a failure.
	return frames, last, nil
}

// GetFile reads a file from the worker's sandbox surface.
func (c *NodeClient) GetFile(ctx context.Context, nodeURL, path string) ([]byte, int, error) {
	url := fmt.Sprintf("%s/files/%s", strings.TrimSuffix(nodeURL, "/"), strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// PutFile writes a file through the worker's sandbox surface.
func (c *NodeClient) PutFile(ctx context.Context, nodeURL, path, content string) (int, error) {
	url := fmt.Sprintf("%s/files/%s", strings.TrimSuffix(nodeURL, "/"), strings.TrimPrefix(path, "/"))
	encoded, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
