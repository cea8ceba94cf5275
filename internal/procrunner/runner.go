// Package procrunner spawns external binaries (ab-av1, mediainfo) and
// streams their merged stdout+stderr as line events. The runner itself is
// untimed; timeouts are the caller's context's job.
package procrunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// lineBufferSize bounds the line channel; a stalled consumer backpressures
// the child through the pipe.
const lineBufferSize = 256

// tailLines is how many recent output lines a handle retains for failure
// context.
const tailLines = 100

// maxLineBytes bounds a single output line. mediainfo JSON documents arrive
// as one very long line.
const maxLineBytes = 10 * 1024 * 1024

// Runner spawns child processes.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a process runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger.With("component", "procrunner")}
}

// Handle is one running child process. Lines() streams its merged output;
// Wait() reaps it; Cancel() terminates it and its process group.
type Handle struct {
	name string
	args []string

	cmd   *exec.Cmd
	lines chan string

	mu       sync.Mutex
	tail     []string
	canceled bool

	started time.Time
	monitor *Monitor
	logger  *slog.Logger
}

// Spawn resolves the binary on PATH, starts it with merged stdout+stderr,
// and begins streaming lines. The returned handle must be Wait()ed to reap
// the child.
func (r *Runner) Spawn(ctx context.Context, name string, args ...string) (*Handle, error) {
	binary, err := FindBinary(name, "")
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	setProcessGroup(cmd)
	// Context cancellation must take down the whole process group, not just
	// the direct child: ab-av1 keeps an ffmpeg child that would otherwise
	// hold the output pipe open.
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	// One pipe carries both streams so line ordering between them is
	// preserved as the child interleaves writes.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	// The parent's write end must close so the reader sees EOF when the
	// child exits.
	pw.Close()

	h := &Handle{
		name:    name,
		args:    args,
		cmd:     cmd,
		lines:   make(chan string, lineBufferSize),
		started: time.Now(),
		monitor: NewMonitor(cmd.Process.Pid),
		logger:  r.logger.With(slog.String("binary", name), slog.Int("pid", cmd.Process.Pid)),
	}
	h.monitor.Start()

	go h.readLines(pr)

	h.logger.Debug("process started", slog.String("args", strings.Join(args, " ")))
	return h, nil
}

// readLines scans the merged output into the line channel. The scanner
// buffers partial lines until newline or EOF; an EOF-terminated final
// segment is emitted as its own line.
func (h *Handle) readLines(r *os.File) {
	defer r.Close()
	defer close(h.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		h.appendTail(line)
		h.lines <- line
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("reading process output", slog.String("error", err.Error()))
	}
}

// appendTail keeps the last tailLines lines for failure context.
func (h *Handle) appendTail(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.tail) >= tailLines {
		h.tail = h.tail[1:]
	}
	h.tail = append(h.tail, line)
}

// Lines returns the channel of output lines. It closes at EOF.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// Tail returns a copy of the most recent output lines.
func (h *Handle) Tail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.tail))
	copy(out, h.tail)
	return out
}

// Wait reaps the child and returns its exit code. A child killed by signal
// reports 128+signal, matching shell conventions (SIGKILL -> 137).
func (h *Handle) Wait() (int, error) {
	err := h.cmd.Wait()
	h.monitor.Stop()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitCodeOf(exitErr)
			err = nil
		}
	}

	h.logger.Debug("process exited",
		slog.Int("exit_code", code),
		slog.Duration("duration", time.Since(h.started)),
	)
	return code, err
}

// Cancel terminates the child and its process group, then waits for the
// reader to drain so no descriptors leak. Safe to call more than once.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.canceled {
		h.mu.Unlock()
		return
	}
	h.canceled = true
	h.mu.Unlock()

	h.logger.Debug("canceling process")
	killProcessGroup(h.cmd)

	// Drain remaining lines so the reader goroutine can finish.
	go func() {
		for range h.lines {
		}
	}()
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Stats returns current resource usage of the child, if monitoring is
// active.
func (h *Handle) Stats() *ProcessStats {
	return h.monitor.Stats()
}

// Command returns the binary name and argv for failure records.
func (h *Handle) Command() (string, []string) {
	return h.name, h.args
}
