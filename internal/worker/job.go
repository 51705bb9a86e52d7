package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/justinmoon/spool/internal/stream"
)

// Job owns one non-interactive child process and its output stream.
// The publisher is shared with the reader and waiter goroutines; the
// child handle has its own mutex because cancellation can race the
// waiter.
type Job struct {
	Pub *stream.Publisher

	procMu sync.Mutex
	cmd    *exec.Cmd

	mu       sync.Mutex
	exitCode *int
	exited   bool
	exitedAt time.Time

	done chan struct{}
}

// StartJob launches cmd joined into a login shell so pipes, globbing
// and builtins behave uniformly. The child runs in its own process
// group so cancellation reaches the whole pipeline. The returned job is
// already streaming; callers attach via the publisher.
func StartJob(cmdline []string, cwd string, env map[string]string, timeout time.Duration) (*Job, error) {
	if len(cmdline) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	c := exec.Command("bash", "-lc", strings.Join(cmdline, " "))
	if cwd != "" {
		c.Dir = cwd
	}
	c.Env = append(os.Environ(), "TERM=xterm")
	for k, v := range env {
		c.Env = append(c.Env, k+"="+v)
	}
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := c.Start(); err != nil {
		return nil, err
	}

	j := &Job{
		Pub:  stream.NewPublisher(),
		cmd:  c,
		done: make(chan struct{}),
	}

	j.Pub.Emit(stream.KindEvent, "stream-start")

	var readers sync.WaitGroup
	readers.Add(2)
	go j.readPipe(&readers, stream.KindStdout, stdout)
	go j.readPipe(&readers, stream.KindStderr, stderr)

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, j.Kill)
	}

	go j.wait(&readers, timer)

	return j, nil
}

// readPipe turns each line of the pipe into one frame. The trailing
// newline stays in the payload; a final partial line is still emitted.
func (j *Job) readPipe(wg *sync.WaitGroup, kind string, r io.Reader) {
	defer wg.Done()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			j.Pub.Emit(kind, line)
		}
		if err != nil {
			if err != io.EOF {
				j.Pub.Emit(stream.KindEvent, kind+"-reader-error:"+err.Error())
			}
			return
		}
	}
}

// wait joins both readers before reaping so the exit frame cannot
// overtake tailing output, then records the code and ends the stream.
func (j *Job) wait(readers *sync.WaitGroup, timer *time.Timer) {
	readers.Wait()

	j.procMu.Lock()
	_ = j.cmd.Wait()
	j.procMu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	var code *int
	if ps := j.cmd.ProcessState; ps != nil && ps.Exited() {
		n := ps.ExitCode()
		code = &n
	}

	j.mu.Lock()
	j.exitCode = code
	j.exited = true
	j.exitedAt = time.Now()
	j.mu.Unlock()

	j.Pub.EmitExit(code)
	close(j.done)
}

// Kill terminates the job's process group. Errors from a child that
// already exited are ignored; the waiter still emits the exit frame.
func (j *Job) Kill() {
	j.procMu.Lock()
	proc := j.cmd.Process
	j.procMu.Unlock()
	if proc == nil {
		return
	}
	_ = unix.Kill(-proc.Pid, unix.SIGKILL)
}

// Done is closed once the exit frame has been emitted.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// State reports "running" or "exited".
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.exited {
		return "exited"
	}
	return "running"
}

// ExitCode returns the recorded code, or nil while running or when the
// OS reported none.
func (j *Job) ExitCode() *int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitCode
}

// ExitedAt returns when the stream terminated, if it has.
func (j *Job) ExitedAt() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitedAt, j.exited
}
