package worker

import (
	"strings"
	"testing"
	"time"

	"github.com/justinmoon/spool/internal/stream"
)

// collect drains a publisher's stream (replay + live, deduped by seq)
// until the terminal exit frame or the timeout.
func collect(t *testing.T, pub *stream.Publisher, timeout time.Duration) []stream.Frame {
	t.Helper()

	subID, ch := pub.Subscribe()
	defer pub.Unsubscribe(subID)

	frames := pub.Snapshot()
	var last uint64
	if len(frames) > 0 {
		last = frames[len(frames)-1].Seq
		if frames[len(frames)-1].Terminal() {
			return frames
		}
	}

	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			if f.Seq <= last {
				continue
			}
			frames = append(frames, f)
			last = f.Seq
			if f.Terminal() {
				return frames
			}
		case <-deadline:
			t.Fatalf("timed out waiting for stream end; have %d frames", len(frames))
		}
	}
}

func findFrame(frames []stream.Frame, kind, substr string) bool {
	for _, f := range frames {
		if f.T == kind && strings.Contains(f.D, substr) {
			return true
		}
	}
	return false
}

func TestJobEcho(t *testing.T) {
	job, err := StartJob([]string{"echo hi"}, "", nil, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	frames := collect(t, job.Pub, 10*time.Second)

	if frames[0].T != stream.KindEvent || frames[0].D != "stream-start" {
		t.Fatalf("first frame %+v, want stream-start event", frames[0])
	}
	if !findFrame(frames, stream.KindStdout, "hi\n") {
		t.Fatalf("no stdout frame with %q: %+v", "hi\n", frames)
	}
	final := frames[len(frames)-1]
	if final.D != "exit:Some(0)" {
		t.Fatalf("final frame %+v", final)
	}
	if job.State() != "exited" {
		t.Fatalf("state %q", job.State())
	}
	if code := job.ExitCode(); code == nil || *code != 0 {
		t.Fatalf("exit code %v", code)
	}
}

func TestJobStdoutStderrInterleave(t *testing.T) {
	job, err := StartJob([]string{"sh -c 'printf a; printf b 1>&2'"}, "", nil, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	frames := collect(t, job.Pub, 10*time.Second)

	if !findFrame(frames, stream.KindStdout, "a") {
		t.Fatalf("missing stdout frame: %+v", frames)
	}
	if !findFrame(frames, stream.KindStderr, "b") {
		t.Fatalf("missing stderr frame: %+v", frames)
	}
	if frames[len(frames)-1].D != "exit:Some(0)" {
		t.Fatalf("final frame %+v", frames[len(frames)-1])
	}
}

func TestJobNoOutput(t *testing.T) {
	job, err := StartJob([]string{"true"}, "", nil, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	frames := collect(t, job.Pub, 10*time.Second)
	if len(frames) != 2 {
		t.Fatalf("expected stream-start + exit only, got %+v", frames)
	}
	if frames[0].D != "stream-start" || frames[1].D != "exit:Some(0)" {
		t.Fatalf("unexpected frames %+v", frames)
	}
}

func TestJobNonZeroExit(t *testing.T) {
	job, err := StartJob([]string{"exit 3"}, "", nil, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	frames := collect(t, job.Pub, 10*time.Second)
	if frames[len(frames)-1].D != "exit:Some(3)" {
		t.Fatalf("final frame %+v", frames[len(frames)-1])
	}
}

func TestJobCwdAndEnv(t *testing.T) {
	job, err := StartJob([]string{"pwd; echo $SPOOL_TEST_VAR"}, "/", map[string]string{"SPOOL_TEST_VAR": "wired"}, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	frames := collect(t, job.Pub, 10*time.Second)
	if !findFrame(frames, stream.KindStdout, "/\n") {
		t.Fatalf("missing cwd output: %+v", frames)
	}
	if !findFrame(frames, stream.KindStdout, "wired\n") {
		t.Fatalf("missing env output: %+v", frames)
	}
}

func TestJobKill(t *testing.T) {
	job, err := StartJob([]string{"sleep 30"}, "", nil, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	job.Kill()

	frames := collect(t, job.Pub, 10*time.Second)
	final := frames[len(frames)-1]
	if final.D != "exit:None" {
		t.Fatalf("killed job should report no exit code, got %+v", final)
	}
	if job.ExitCode() != nil {
		t.Fatalf("exit code %v after kill", job.ExitCode())
	}
}

func TestJobTimeout(t *testing.T) {
	job, err := StartJob([]string{"sleep 30"}, "", nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed-out job did not terminate")
	}
	if frames := job.Pub.Snapshot(); frames[len(frames)-1].D != "exit:None" {
		t.Fatalf("final frame %+v", frames[len(frames)-1])
	}
}

func TestJobBacklogBounded(t *testing.T) {
	job, err := StartJob([]string{"seq 1 2000"}, "", nil, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-job.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("job did not finish")
	}

	// stream-start + 2000 lines + exit
	if got := job.Pub.LatestSeq(); got < 2002 {
		t.Fatalf("latest seq %d, want at least 2002", got)
	}
	snap := job.Pub.Snapshot()
	if len(snap) != stream.DefaultBacklogCap {
		t.Fatalf("backlog kept %d frames, want %d", len(snap), stream.DefaultBacklogCap)
	}
	if !snap[len(snap)-1].Terminal() {
		t.Fatalf("backlog should end with the exit frame, got %+v", snap[len(snap)-1])
	}
}

func TestJobEmptyCommand(t *testing.T) {
	if _, err := StartJob(nil, "", nil, 0); err == nil {
		t.Fatal("expected error for empty command")
	}
}
