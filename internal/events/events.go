// Package events publishes worker lifecycle notifications over NATS so
// an orchestrator can react to jobs and sessions ending without polling
// the status endpoints. In-process stream fan-out stays in
// internal/stream; this bus only crosses process boundaries.
package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	streamName  = "SPOOL"
	subjectRoot = "spool"
)

// Event is the JSON payload carried on every lifecycle subject.
type Event struct {
	Kind     string    `json:"kind"`
	ID       string    `json:"id"`
	ExitCode *int      `json:"exit_code,omitempty"`
	At       time.Time `json:"at"`
}

// Bus fans lifecycle events out through NATS JetStream. A nil *Bus is
// valid and drops every event; that is how the worker runs when no
// NATS URL is configured, so callers never branch on it.
type Bus struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connect dials NATS and ensures the lifecycle stream exists. An empty
// URL yields a nil bus.
func Connect(url string) (*Bus, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectRoot + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, err
	}

	return &Bus{nc: nc, js: js}, nil
}

func (b *Bus) JobStarted(id string)   { b.publish("job.started", Event{ID: id}) }
func (b *Bus) JobCanceled(id string)  { b.publish("job.canceled", Event{ID: id}) }
func (b *Bus) SessionStarted(id string) {
	b.publish("session.started", Event{ID: id})
}

func (b *Bus) JobExited(id string, code *int) {
	b.publish("job.exited", Event{ID: id, ExitCode: code})
}

func (b *Bus) SessionClosed(id string, code *int) {
	b.publish("session.closed", Event{ID: id, ExitCode: code})
}

// publish is fire-and-forget: a broker hiccup is logged, never
// surfaced, because lifecycle events are advisory and the stream
// contract must not depend on them.
func (b *Bus) publish(kind string, e Event) {
	if b == nil {
		return
	}

	e.Kind = kind
	e.At = time.Now()
	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	subject := subjectRoot + "." + kind + "." + e.ID
	if _, err := b.js.Publish(subject, data); err != nil {
		log.Printf("event publish %s: %v", subject, err)
	}
}

// Close flushes anything in flight and drops the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.nc.Drain()
}
