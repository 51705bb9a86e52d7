package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/justinmoon/spool/internal/config"
)

// AgentContext identifies the authenticated caller and the worker host
// its token is bound to.
type AgentContext struct {
	UserID      string
	WorkspaceID string
	NodeURL     string
}

type contextKey string

const agentKey contextKey = "agent"

// GetAgent returns the caller identity attached by the auth middleware.
func GetAgent(ctx context.Context) (AgentContext, bool) {
	agent, ok := ctx.Value(agentKey).(AgentContext)
	return agent, ok
}

// Middleware resolves opaque bearer tokens against the config token
// table and rate-limits each token independently.
type Middleware struct {
	cfg *config.Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMiddleware(cfg *config.Config) *Middleware {
	return &Middleware{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (m *Middleware) limiter(token string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[token]
	if !ok {
		l = rate.NewLimiter(rate.Limit(m.cfg.Gateway.RatePerSec), m.cfg.Gateway.RateBurst)
		m.limiters[token] = l
	}
	return l
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		entry, ok := m.cfg.ResolveToken(token)
		if !ok {
			http.Error(w, "unknown token", http.StatusUnauthorized)
			return
		}

		if !m.limiter(token).Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		agent := AgentContext{
			UserID:      entry.UserID,
			WorkspaceID: entry.WorkspaceID,
			NodeURL:     entry.NodeURL,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey, agent)))
	})
}
