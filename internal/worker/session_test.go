package worker

import (
	"strings"
	"testing"
	"time"

	"github.com/justinmoon/spool/internal/stream"
)

func startTestSession(t *testing.T) *Session {
	t.Helper()
	sess, err := StartSession(ResolveProfile("posix"), 80, 24)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(func() {
		sess.Close()
		select {
		case <-sess.Done():
		case <-time.After(5 * time.Second):
		}
	})
	return sess
}

// waitForOutput scans live stdout frames until one contains substr.
func waitForOutput(t *testing.T, sess *Session, substr string, timeout time.Duration) {
	t.Helper()

	subID, ch := sess.Pub.Subscribe()
	defer sess.Pub.Unsubscribe(subID)

	for _, f := range sess.Pub.Snapshot() {
		if f.T == stream.KindStdout && strings.Contains(f.D, substr) {
			return
		}
	}

	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				t.Fatalf("stream ended before %q appeared", substr)
			}
			if f.T == stream.KindStdout && strings.Contains(f.D, substr) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", substr)
		}
	}
}

func TestSessionEcho(t *testing.T) {
	sess := startTestSession(t)

	if sess.PID() == 0 {
		t.Fatal("session has no PID")
	}

	// The split marker never appears verbatim in the echoed input, only
	// in the shell's output.
	if err := sess.Write("echo sp\"\"ool-marker\r"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForOutput(t, sess, "spool-marker", 10*time.Second)
}

func TestSessionResize(t *testing.T) {
	sess := startTestSession(t)

	if err := sess.Resize(100, 30); err != nil {
		t.Fatalf("resize: %v", err)
	}
}

func TestSessionCloseEmitsExit(t *testing.T) {
	sess := startTestSession(t)

	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-sess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not terminate after EOT")
	}

	snap := sess.Pub.Snapshot()
	final := snap[len(snap)-1]
	if final.D != "exit:None" {
		t.Fatalf("final frame %+v, want exit:None", final)
	}
	if sess.State() != "exited" {
		t.Fatalf("state %q", sess.State())
	}
}

func TestSessionWriteAfterExit(t *testing.T) {
	sess := startTestSession(t)

	sess.Close()
	select {
	case <-sess.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not terminate")
	}

	if err := sess.Write("echo too late\r"); err == nil {
		t.Fatal("write after exit should fail")
	}
}

func TestResolveProfile(t *testing.T) {
	p := ResolveProfile("posix")
	if p.Program != "/bin/sh" || len(p.Args) != 1 || p.Args[0] != "-i" {
		t.Fatalf("posix profile %+v", p)
	}

	def := ResolveProfile("")
	if def.Program != "/bin/bash" && def.Program != "/bin/sh" {
		t.Fatalf("default profile %+v", def)
	}
}
