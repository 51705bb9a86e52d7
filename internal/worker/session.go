package worker

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/justinmoon/spool/internal/stream"
)

// Session owns one interactive shell on a PTY. The master descriptor is
// duplicated at construction so the reader goroutine and the write path
// never share a file: ptmx is read-only after startup, writer belongs
// to Write/Close callers.
type Session struct {
	Pub *stream.Publisher

	cmd    *exec.Cmd
	ptmx   *os.File
	writer *os.File
	pid    int

	mu       sync.Mutex
	exitCode *int
	exited   bool
	exitedAt time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// StartSession opens a PTY at the requested size and runs the profile's
// shell on it as session leader with the slave as controlling terminal.
func StartSession(profile Profile, cols, rows uint16) (*Session, error) {
	c := exec.Command(profile.Program, profile.Args...)
	c.Env = sessionEnv()

	ptmx, err := pty.StartWithSize(c, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, err
	}

	wfd, err := unix.Dup(int(ptmx.Fd()))
	if err != nil {
		ptmx.Close()
		_ = c.Process.Kill()
		return nil, err
	}

	s := &Session{
		Pub:    stream.NewPublisher(),
		cmd:    c,
		ptmx:   ptmx,
		writer: os.NewFile(uintptr(wfd), "ptmx-write"),
		pid:    c.Process.Pid,
		done:   make(chan struct{}),
	}

	go s.readLoop()
	return s, nil
}

func sessionEnv() []string {
	env := make([]string, 0, len(os.Environ())+2)
	hasPath := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "TERM=") {
			continue
		}
		if strings.HasPrefix(kv, "PATH=") {
			hasPath = true
		}
		env = append(env, kv)
	}
	env = append(env, "TERM=xterm")
	if !hasPath {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
	return env
}

// readLoop pumps raw master-side chunks into stdout frames. PTY output
// is never line-split: shells emit ANSI and partial lines, and the
// consumer reassembles. Invalid UTF-8 decodes lossily.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.Pub.Emit(stream.KindStdout, strings.ToValidUTF8(string(buf[:n]), "�"))
		}
		if err != nil {
			// EOF, or EIO once the shell hangs up its side.
			break
		}
	}
	s.finish()
}

// finish ends the stream with exit:None (the PTY reached EOF; the OS
// gave the reader no exit status), then reaps the child so the real
// code is still visible on the status snapshot.
func (s *Session) finish() {
	s.Pub.EmitExit(nil)

	_ = s.cmd.Wait()

	s.mu.Lock()
	if ps := s.cmd.ProcessState; ps != nil && ps.Exited() {
		n := ps.ExitCode()
		s.exitCode = &n
	}
	s.exited = true
	s.exitedAt = time.Now()
	s.mu.Unlock()

	s.closeFiles()
	close(s.done)
}

func (s *Session) closeFiles() {
	s.closeOnce.Do(func() {
		s.ptmx.Close()
		s.writer.Close()
	})
}

// Write pushes the payload to the shell, looping on short writes.
func (s *Session) Write(data string) error {
	b := []byte(data)
	for len(b) > 0 {
		n, err := s.writer.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		b = b[n:]
	}
	return nil
}

// Resize issues the window-change ioctl on the master.
func (s *Session) Resize(cols, rows uint16) error {
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("ioctl TIOCSWINSZ failed: %w", err)
	}
	return nil
}

// Close asks the shell to exit by writing EOT; an idle shell treats it
// as end of input and exits normally, which drives the reader to EOF.
func (s *Session) Close() error {
	return s.Write("\x04")
}

func (s *Session) PID() int {
	return s.pid
}

// Done is closed once the stream has terminated and the child is reaped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return "exited"
	}
	return "running"
}

func (s *Session) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *Session) ExitedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitedAt, s.exited
}
