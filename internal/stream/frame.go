// Package stream implements the worker's output pipeline: frames with
// dense per-stream sequence numbers, a bounded replay backlog, and a
// broadcast hub that fans frames out to any number of live subscribers.
package stream

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Frame kinds. Every frame on a stream is one of these.
const (
	KindStdout = "stdout"
	KindStderr = "stderr"
	KindEvent  = "event"
)

// ExitPrefix marks the terminal event frame of a stream. Anything after
// the prefix is informational; consumers only key off the prefix itself.
const ExitPrefix = "exit:"

// Frame is one unit of stream output. Frames are never mutated after
// creation and are safe to copy.
type Frame struct {
	T   string `json:"t"`
	Seq uint64 `json:"seq"`
	D   string `json:"d"`
}

// Terminal reports whether f is the stream's final exit event.
func (f Frame) Terminal() bool {
	return f.T == KindEvent && strings.HasPrefix(f.D, ExitPrefix)
}

// ExitData renders the terminal frame payload. A nil code means the OS
// reported no exit code (signalled or abandoned child).
func ExitData(code *int) string {
	if code == nil {
		return ExitPrefix + "None"
	}
	return fmt.Sprintf("%sSome(%d)", ExitPrefix, *code)
}

// Sequencer hands out dense, strictly increasing sequence numbers
// starting at 1.
type Sequencer struct {
	n atomic.Uint64
}

func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Latest returns the most recently assigned sequence number.
func (s *Sequencer) Latest() uint64 {
	return s.n.Load()
}
