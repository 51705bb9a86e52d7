package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/justinmoon/spool/internal/config"
	"github.com/justinmoon/spool/internal/stream"
)

// Manager owns the gateway's view of worker sessions: one interactive
// session per workspace, plus the last-seen sequence cursor that makes
// the long-poll surface resumable.
type Manager struct {
	cfg    *config.Config
	client *NodeClient

	mu       sync.Mutex
	sessions map[string]string // ws key -> worker session id
	cursors  map[string]uint64 // ws key -> last seen seq
}

func NewManager(cfg *config.Config, client *NodeClient) *Manager {
	return &Manager{
		cfg:      cfg,
		client:   client,
		sessions: make(map[string]string),
		cursors:  make(map[string]uint64),
	}
}

// wsKey scopes sessions and cursors to user + workspace.
func wsKey(agent AgentContext) string {
	return agent.UserID + "::" + agent.WorkspaceID
}

func (m *Manager) longpoll() time.Duration {
	return time.Duration(m.cfg.Gateway.LongpollMs) * time.Millisecond
}

func (m *Manager) ensureSession(ctx context.Context, agent AgentContext) (string, error) {
	key := wsKey(agent)

	m.mu.Lock()
	id, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := m.client.StartSession(ctx, agent.NodeURL, "",
		m.cfg.Gateway.DefaultCols, m.cfg.Gateway.DefaultRows)
	if err != nil {
		return "", fmt.Errorf("failed to start session on %s: %w", agent.NodeURL, err)
	}
	log.Printf("started session %s for %s on %s", id, key, agent.NodeURL)

	m.mu.Lock()
	m.sessions[key] = id
	m.cursors[key] = 0
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) dropSession(agent AgentContext) {
	key := wsKey(agent)
	m.mu.Lock()
	delete(m.sessions, key)
	delete(m.cursors, key)
	m.mu.Unlock()
}

func (m *Manager) cursor(agent AgentContext) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[wsKey(agent)]
}

func (m *Manager) advanceCursor(agent AgentContext, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := wsKey(agent)
	if seq > m.cursors[key] {
		m.cursors[key] = seq
	}
}

// Execute writes the command to the workspace session and long-polls
// the stream from the current cursor. A session the worker has
// forgotten (restart, eviction) is recreated once before giving up.
func (m *Manager) Execute(ctx context.Context, agent AgentContext, cmd string) ([]stream.Frame, error) {
	id, err := m.ensureSession(ctx, agent)
	if err != nil {
		return nil, err
	}

	if err := m.client.Write(ctx, agent.NodeURL, id, cmd+"\r"); err != nil {
		if !errors.Is(err, ErrSessionGone) {
			return nil, err
		}
		m.dropSession(agent)
		if id, err = m.ensureSession(ctx, agent); err != nil {
			return nil, err
		}
		if err := m.client.Write(ctx, agent.NodeURL, id, cmd+"\r"); err != nil {
			return nil, err
		}
	}

	frames, last, err := m.client.ReadStream(ctx, agent.NodeURL, id, m.cursor(agent), m.longpoll())
	if err != nil {
		return nil, err
	}
	m.advanceCursor(agent, last)
	return frames, nil
}

// tailBudget bounds the quick replay pass when a read found nothing new.
const tailBudget = time.Second

// Read long-polls the session stream without writing. When nothing new
// arrives within the budget it replays a tail of recent frames instead,
// leaving the cursor untouched. The returned bool is true for a tail
// replay.
func (m *Manager) Read(ctx context.Context, agent AgentContext) ([]stream.Frame, bool, error) {
	id, err := m.ensureSession(ctx, agent)
	if err != nil {
		return nil, false, err
	}

	cursor := m.cursor(agent)
	frames, last, err := m.client.ReadStream(ctx, agent.NodeURL, id, cursor, m.longpoll())
	if err != nil {
		if errors.Is(err, ErrSessionGone) {
			m.dropSession(agent)
		}
		return nil, false, err
	}
	if len(frames) > 0 {
		m.advanceCursor(agent, last)
		return frames, false, nil
	}

	tailFrom := uint64(0)
	if size := uint64(m.cfg.Gateway.TailSize); cursor > size {
		tailFrom = cursor - size
	}
	frames, _, err = m.client.ReadStream(ctx, agent.NodeURL, id, tailFrom, tailBudget)
	if err != nil {
		return nil, false, err
	}
	return frames, true, nil
}

// Signal translates a named signal into the control byte the shell
// expects on its PTY.
func (m *Manager) Signal(ctx context.Context, agent AgentContext, name string) error {
	var ctrl string
	switch strings.ToUpper(name) {
	case "INT":
		ctrl = "\x03"
	case "EOF":
		ctrl = "\x04"
	case "QUIT":
		ctrl = "\x1c"
	default:
		return fmt.Errorf("unknown signal %q", name)
	}

	id, err := m.ensureSession(ctx, agent)
	if err != nil {
		return err
	}
	if err := m.client.Write(ctx, agent.NodeURL, id, ctrl); err != nil {
		if errors.Is(err, ErrSessionGone) {
			m.dropSession(agent)
		}
		return err
	}
	return nil
}
