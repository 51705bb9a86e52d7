package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewJobID and NewSessionID produce the opaque ids handed to clients.
func NewJobID() string     { return "j_" + uuid.NewString() }
func NewSessionID() string { return "s_" + uuid.NewString() }

// Registry maps ids to live handles. Insertions and removals are
// write-exclusive; stream attachment takes a read lock and works with
// the handle's shared fields from there.
type Registry struct {
	jmu  sync.RWMutex
	jobs map[string]*Job

	smu      sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		jobs:     make(map[string]*Job),
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) AddJob(id string, j *Job) {
	r.jmu.Lock()
	defer r.jmu.Unlock()
	r.jobs[id] = j
}

// Job returns the handle for id, or nil.
func (r *Registry) Job(id string) *Job {
	r.jmu.RLock()
	defer r.jmu.RUnlock()
	return r.jobs[id]
}

// RemoveJob evicts the handle and returns it, if present.
func (r *Registry) RemoveJob(id string) *Job {
	r.jmu.Lock()
	defer r.jmu.Unlock()
	j := r.jobs[id]
	delete(r.jobs, id)
	return j
}

func (r *Registry) AddSession(id string, s *Session) {
	r.smu.Lock()
	defer r.smu.Unlock()
	r.sessions[id] = s
}

func (r *Registry) Session(id string) *Session {
	r.smu.RLock()
	defer r.smu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) RemoveSession(id string) *Session {
	r.smu.Lock()
	defer r.smu.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

// SessionIDs lists the registered session ids.
func (r *Registry) SessionIDs() []string {
	r.smu.RLock()
	defer r.smu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Sweep evicts handles whose stream terminated before the cutoff.
// Subscribers already attached keep their channels; the backlog just
// stops being reachable for new cursors.
func (r *Registry) Sweep(retention time.Duration) (evicted int) {
	cutoff := time.Now().Add(-retention)

	r.jmu.Lock()
	for id, j := range r.jobs {
		if at, ok := j.ExitedAt(); ok && at.Before(cutoff) {
			delete(r.jobs, id)
			evicted++
		}
	}
	r.jmu.Unlock()

	r.smu.Lock()
	for id, s := range r.sessions {
		if at, ok := s.ExitedAt(); ok && at.Before(cutoff) {
			delete(r.sessions, id)
			evicted++
		}
	}
	r.smu.Unlock()

	return evicted
}
