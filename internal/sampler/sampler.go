// Package sampler implements the background per-second resource-usage
// sampler: once per second it snapshots /proc/<pid>/stat and
// /proc/<pid>/io for every tracked pid, persists both verbatim, and emits
// a MEM line to the textual log carrying the RSS page count.
//
// /proc parsing technique (strip the "pid (comm) " prefix by the last
// ") " before splitting into fields, since comm may itself contain spaces
// or parens) is grounded on ja7ad-consumption/pkg/system/proc.ReadProcStat.
package sampler

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmoniumQ/provenance-to-use/internal/provlog"
)

// rssFieldIndex is the 0-based index, within the fields following the
// closing ") " of comm, of the RSS field. /proc/<pid>/stat's RSS is the
// 24th whitespace-delimited field overall; state is the 3rd, so RSS sits
// at offset 24-3 = 21 in the post-comm slice.
const rssFieldIndex = 21

// TrackedSet is the mutex-guarded set of pids the sampler sweeps. Removal
// uses the swap-with-last-element-and-shrink idiom under the held lock, per
// spec.md's concurrency model: a sweep may rewrite the set mid-iteration
// without disturbing readers holding the same lock.
type TrackedSet struct {
	mu   sync.Mutex
	pids []int
}

func NewTrackedSet() *TrackedSet {
	return &TrackedSet{}
}

func (t *TrackedSet) Add(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pids {
		if p == pid {
			return
		}
	}
	t.pids = append(t.pids, pid)
}

// Remove drops pid from the set using swap-with-last-element-and-shrink.
// Returns whether pid was present.
func (t *TrackedSet) Remove(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pids {
		if p == pid {
			last := len(t.pids) - 1
			t.pids[i] = t.pids[last]
			t.pids = t.pids[:last]
			return true
		}
	}
	return false
}

func (t *TrackedSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pids)
}

// Snapshot returns a copy of the currently tracked pids.
func (t *TrackedSet) Snapshot() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(t.pids))
	copy(out, t.pids)
	return out
}

// PidKeyLookup resolves an OS pid to its current composite pidkey string.
type PidKeyLookup func(pid int) (pidkey string, ok bool)

// Sink receives the per-sweep records the sampler produces. Implementations
// are expected to wrap the keyed store and the textual log writer; a sink
// method returning an error only causes that one record to be logged and
// dropped (spec.md section 7's transient-I/O-error policy), never to abort
// the sweep.
type Sink interface {
	PutStat(pidkey string, usec int64, line string) error
	PutIOStat(pidkey string, usec int64, line string) error
	Mem(sec int64, pid int, rssPages int64) error
	Lexit(sec int64, pid int) error
}

// Sampler runs the background sweep loop described in spec.md section 4.5.
type Sampler struct {
	tracked  *TrackedSet
	lookup   PidKeyLookup
	sink     Sink
	logger   *provlog.Logger
	interval time.Duration
	nowUsec  func() int64

	idlePoll time.Duration
	done     chan struct{}
}

// New builds a Sampler. nowUsec supplies the current wallclock in
// microseconds; tests substitute a deterministic clock.
func New(tracked *TrackedSet, lookup PidKeyLookup, sink Sink, logger *provlog.Logger, nowUsec func() int64) *Sampler {
	return &Sampler{
		tracked:  tracked,
		lookup:   lookup,
		sink:     sink,
		logger:   logger,
		interval: time.Second,
		nowUsec:  nowUsec,
		idlePoll: 50 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// SetInterval overrides the one-second default sweep interval. Primarily
// for tests, per spec.md's "sleep one second ... (implementation
// configurable)".
func (s *Sampler) SetInterval(d time.Duration) { s.interval = d }

// Done is closed once Run returns: after the sampler has observed an empty
// tracked set, or after stop was closed.
func (s *Sampler) Done() <-chan struct{} { return s.done }

// Run waits until at least one pid is tracked, then sweeps until the
// tracked set empties out, sleeping interval between sweeps. It returns
// once the loop exits; callers typically invoke it from its own goroutine.
func (s *Sampler) Run(stop <-chan struct{}) {
	defer close(s.done)
	for s.tracked.Len() == 0 {
		select {
		case <-stop:
			return
		case <-time.After(s.idlePoll):
		}
	}
	for {
		pids := s.tracked.Snapshot()
		if len(pids) == 0 {
			return
		}
		for _, pid := range pids {
			s.sweepOne(pid)
		}
		select {
		case <-stop:
			return
		case <-time.After(s.interval):
		}
		if s.tracked.Len() == 0 {
			return
		}
	}
}

func (s *Sampler) sweepOne(pid int) {
	sec := s.nowUsec() / 1_000_000

	statLine, err := readProcFile(pid, "stat")
	if err != nil {
		if e := s.sink.Lexit(sec, pid); e != nil && s.logger != nil {
			s.logger.Warn(fmt.Sprintf("lexit sink write failed for pid %d: %v", pid, e))
		}
		s.tracked.Remove(pid)
		return
	}

	pidkey, ok := s.lookup(pid)
	if !ok {
		pidkey = strconv.Itoa(pid)
	}
	usec := s.nowUsec()
	if err := s.sink.PutStat(pidkey, usec, statLine); err != nil && s.logger != nil {
		s.logger.Warn(fmt.Sprintf("stat persist failed for pid %d: %v", pid, err))
	}

	if ioLine, err := readProcFile(pid, "io"); err == nil {
		if err := s.sink.PutIOStat(pidkey, usec, ioLine); err != nil && s.logger != nil {
			s.logger.Warn(fmt.Sprintf("iostat persist failed for pid %d: %v", pid, err))
		}
	}

	if rss, err := parseRSSPages(statLine); err == nil {
		if err := s.sink.Mem(sec, pid, rss); err != nil && s.logger != nil {
			s.logger.Warn(fmt.Sprintf("mem line write failed for pid %d: %v", pid, err))
		}
	} else if s.logger != nil {
		s.logger.Debug(fmt.Sprintf("rss extraction failed for pid %d: %v", pid, err))
	}
}

func readProcFile(pid int, name string) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/%s", pid, name))
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	var b strings.Builder
	for sc.Scan() {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// parseRSSPages extracts the RSS field (24th whitespace-delimited field of
// /proc/<pid>/stat) in pages, handling a comm field that may contain
// spaces or parens.
func parseRSSPages(statLine string) (int64, error) {
	i := strings.LastIndex(statLine, ") ")
	if i < 0 {
		return 0, fmt.Errorf("sampler: malformed stat line, no comm terminator found")
	}
	fields := strings.Fields(statLine[i+2:])
	if rssFieldIndex >= len(fields) {
		return 0, fmt.Errorf("sampler: stat line too short, got %d post-comm fields", len(fields))
	}
	return strconv.ParseInt(fields[rssFieldIndex], 10, 64)
}
