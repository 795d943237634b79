// Package txtlog implements the textual, human-readable provenance log: a
// whitespace-separated, line-oriented artifact written in parallel with the
// keyed store. Its format is fixed by spec.md section 6 and is part of the
// session's external contract, so every field order here is load-bearing.
package txtlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmoniumQ/provenance-to-use/internal/event"
)

// Header carries the six session-identifying fields written as the first
// six lines of the log, one `# @<field>: <value>` per line.
type Header struct {
	Agent     string
	Machine   string
	Namespace string
	Subns     string
	Fullns    string
	Parentns  string
}

// Writer appends provenance lines to a session log file. All writes are
// serialized by a single mutex (M_log in spec.md section 5): the textual
// log and the keyed store are independent sinks, so a write failure here
// must never prevent a concurrent write to the store from succeeding.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
}

// Create opens path for append, creating it if absent, and writes the
// six-line header immediately.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, buf: bufio.NewWriter(f)}
	if err := w.writeHeader(h); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader(h Header) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := []struct{ name, val string }{
		{"agent", h.Agent},
		{"machine", h.Machine},
		{"namespace", h.Namespace},
		{"subns", h.Subns},
		{"fullns", h.Fullns},
		{"parentns", h.Parentns},
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w.buf, "# @%s: %s\n", f.name, f.val); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf != nil {
		if err := w.buf.Flush(); err != nil {
			w.f.Close()
			return err
		}
	}
	return w.f.Close()
}

func (w *Writer) writeLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.buf, line); err != nil {
		return err
	}
	if _, err := io.WriteString(w.buf, "\n"); err != nil {
		return err
	}
	return w.buf.Flush()
}

func ioTag(dir event.Direction) string {
	switch dir {
	case event.ReadOnly:
		return "READ"
	case event.WriteOnly:
		return "WRITE"
	case event.ReadWrite:
		return "READ-WRITE"
	}
	return "UNKNOWNIO"
}

func quoteArgv(argv []string, truncated bool) string {
	var b strings.Builder
	b.WriteString("[ ")
	for _, a := range argv {
		b.WriteString(strconv.Quote(a))
		b.WriteString(", ")
	}
	if truncated {
		b.WriteString("... ")
	}
	b.WriteString("]")
	return b.String()
}

// Exec writes an `EXECVE` line for entry into execve.
func (w *Writer) Exec(sec int64, pid int, ppid int, absPath, cwd string, argv []string, truncated bool) error {
	return w.writeLine(fmt.Sprintf("%d %d EXECVE %d %s %s %s", sec, pid, ppid, absPath, cwd, quoteArgv(argv, truncated)))
}

// ExecDone writes an `EXECVE2` line for a successful execve return.
func (w *Writer) ExecDone(sec int64, pid int, ppid int) error {
	return w.writeLine(fmt.Sprintf("%d %d EXECVE2 %d", sec, pid, ppid))
}

// IO writes a `READ`/`WRITE`/`READ-WRITE`/`UNKNOWNIO` line.
func (w *Writer) IO(sec int64, pid int, dir event.Direction, absPath string) error {
	return w.writeLine(fmt.Sprintf("%d %d %s %s", sec, pid, ioTag(dir), absPath))
}

// Spawn writes a `SPAWN` line.
func (w *Writer) Spawn(sec int64, pid int, childPid int) error {
	return w.writeLine(fmt.Sprintf("%d %d SPAWN %d", sec, pid, childPid))
}

// Lexit writes a `LEXIT` line.
func (w *Writer) Lexit(sec int64, pid int) error {
	return w.writeLine(fmt.Sprintf("%d %d LEXIT", sec, pid))
}

// Mem writes a `MEM` line carrying the RSS page count sampled from
// /proc/<pid>/stat.
func (w *Writer) Mem(sec int64, pid int, rssPages int64) error {
	return w.writeLine(fmt.Sprintf("%d %d MEM %d", sec, pid, rssPages))
}

// Act writes an `ACT` line for a coarse-grained activity marker.
func (w *Writer) Act(sec int64, pid int, label string) error {
	return w.writeLine(fmt.Sprintf("%d %d ACT %s", sec, pid, label))
}

// Sock writes the summary `SOCK` line for a completed socket call.
func (w *Writer) Sock(sec int64, pid int, fd, lenParam, flags, lenResult int, action string) error {
	return w.writeLine(fmt.Sprintf("%d %d SOCK %d %d %d %d %s", sec, pid, fd, lenParam, flags, lenResult, action))
}

// SockPhase writes a socket-phase line: action code, then local/remote
// endpoint, then fd.
func (w *Writer) SockPhase(sec int64, pid int, actionCode, sport int, saddr string, dport int, daddr string, fd int) error {
	return w.writeLine(fmt.Sprintf("%d %d %d %d %s %d %s %d", sec, pid, actionCode, sport, saddr, dport, daddr, fd))
}
