// Package session implements Session Bootstrap (component F): picking a
// free log/store file pair, minting namespace identifiers, recording
// session metadata, and wiring together the graph, the keyed store, the
// textual log, and the sampler into one owning handle.
//
// Per spec.md section 9's design note, the source keeps the graph and
// store as module-level globals with explicit init/clear; this port
// instead encapsulates them in a single Session value with no package
// state, which preserves the same init/clear semantics while trivially
// allowing multiple concurrent sessions.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/charmoniumQ/provenance-to-use/internal/config"
	"github.com/charmoniumQ/provenance-to-use/internal/graph"
	"github.com/charmoniumQ/provenance-to-use/internal/provlog"
	"github.com/charmoniumQ/provenance-to-use/internal/sampler"
	"github.com/charmoniumQ/provenance-to-use/internal/store"
	"github.com/charmoniumQ/provenance-to-use/internal/txtlog"
)

// Session owns every resource spec.md section 5 lists: one textual log
// file handle, one keyed store handle, one background sampler, and the
// graph's own internal mutex.
type Session struct {
	Namespace string
	Subns     string
	Fullns    string

	Graph   *graph.Graph
	Store   *store.Store
	Log     *txtlog.Writer
	Sampler *sampler.Sampler
	Tracked *sampler.TrackedSet
	Logger  *provlog.Logger

	samplerStop chan struct{}
	lock        *flock.Flock
}

// pickFreeSuffix scans dir for the lowest positive n such that
// <root>.<n>.log does not exist yet; an existing <root>.<n>.log_db alone
// does not claim n. The file names are root itself followed by the suffix:
// no fixed "provenance." prefix is put in front of root. Grounded on gravwell's doublestar-based config
// globbing, reused here to glob the existing provenance.* log files in
// one shot rather than stat-ing a guessed sequence one at a time.
func pickFreeSuffix(dir, root string) (int, error) {
	pattern := fmt.Sprintf("%s.*.log", root)
	existing := make(map[int]bool)
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return 0, err
	}
	prefix := root + "."
	for _, m := range matches {
		rest := m[len(prefix):]
		var n int
		if _, err := fmt.Sscanf(rest, "%d.log", &n); err == nil {
			existing[n] = true
		}
	}
	for n := 1; ; n++ {
		if !existing[n] {
			return n, nil
		}
	}
}

func logPath(dir, root string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.log", root, n))
}

func dbPath(dir, root string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.log_db", root, n))
}

// Bootstrap performs the full session bootstrap described in spec.md
// sections 3 and 6: it picks a free log/store pair under an advisory
// lock, opens the graph and the keyed store, writes the textual log
// header and session metadata, and starts the sampler. Any failure partway
// through releases everything already acquired before returning.
func Bootstrap(cfg config.Session, agent, machine string, lookup sampler.PidKeyLookup) (s *Session, err error) {
	s = &Session{
		Graph:   graph.New(),
		Tracked: sampler.NewTrackedSet(),
	}
	defer func() {
		if r := recover(); r != nil {
			s.Close()
			panic(r)
		}
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	s.Logger, err = provlog.NewFile(filepath.Join(cfg.PackageDir, ".provenance.diag.log"))
	if err != nil {
		s.Logger = provlog.NewDiscard()
	}
	if lvlErr := s.Logger.SetLevel(cfg.LogLevel); lvlErr != nil {
		s.Logger.Warn(fmt.Sprintf("ignoring invalid log level: %v", lvlErr))
	}

	n, pickErr := pickFreeSuffix(cfg.PackageDir, cfg.RootName)
	if pickErr != nil {
		err = fmt.Errorf("session: picking free log suffix: %w", pickErr)
		return
	}

	lockPath := logPath(cfg.PackageDir, cfg.RootName, n) + ".lock"
	s.lock = flock.New(lockPath)
	locked, lockErr := s.lock.TryLock()
	if lockErr != nil {
		err = fmt.Errorf("session: acquiring bootstrap lock: %w", lockErr)
		return
	}
	if !locked {
		err = fmt.Errorf("session: log suffix %d already claimed by another bootstrap", n)
		return
	}

	if err = s.Graph.Init(); err != nil {
		return
	}

	s.Store, err = store.Open(dbPath(cfg.PackageDir, cfg.RootName, n))
	if err != nil {
		return
	}

	s.Namespace = uuid.New().String()
	s.Subns = uuid.New().String()
	s.Fullns = s.Namespace + "." + s.Subns

	s.Log, err = txtlog.Create(logPath(cfg.PackageDir, cfg.RootName, n), txtlog.Header{
		Agent:     agent,
		Machine:   machine,
		Namespace: s.Namespace,
		Subns:     s.Subns,
		Fullns:    s.Fullns,
		Parentns:  cfg.ParentNamespace,
	})
	if err != nil {
		return
	}

	for k, v := range map[string]string{
		store.MetaAgent:     agent,
		store.MetaMachine:   machine,
		store.MetaNamespace: s.Namespace,
		store.MetaSubns:     s.Subns,
		store.MetaFullns:    s.Fullns,
		store.MetaParentns:  cfg.ParentNamespace,
		store.MetaRoot:      cfg.RootName,
	} {
		if putErr := s.Store.PutString(k, v); putErr != nil {
			err = fmt.Errorf("session: writing session metadata: %w", putErr)
			return
		}
	}

	s.samplerStop = make(chan struct{})
	s.Sampler = sampler.New(s.Tracked, lookup, samplerSink{s}, s.Logger, nowUsec)
	go s.Sampler.Run(s.samplerStop)

	return s, nil
}

func nowUsec() int64 {
	return time.Now().UnixMicro()
}

// samplerSink adapts a Session's store and textual log into the
// sampler.Sink interface: stat and io snapshots go to the keyed store, MEM
// and LEXIT lines go to the textual log.
type samplerSink struct {
	s *Session
}

func (a samplerSink) PutStat(pidkey string, usec int64, line string) error {
	return a.s.Store.PutString(store.StatKey(pidkey, usec), line)
}

func (a samplerSink) PutIOStat(pidkey string, usec int64, line string) error {
	return a.s.Store.PutString(store.IOStatKey(pidkey, usec), line)
}

func (a samplerSink) Mem(sec int64, pid int, rssPages int64) error {
	return a.s.Log.Mem(sec, pid, rssPages)
}

func (a samplerSink) Lexit(sec int64, pid int) error {
	return a.s.Log.Lexit(sec, pid)
}

// Close releases every resource this session acquired, in reverse
// acquisition order, tolerating a partially-initialized Session (any
// field bootstrap had not yet set is simply skipped). It is safe to call
// more than once.
func (s *Session) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.samplerStop != nil {
		select {
		case <-s.samplerStop:
		default:
			close(s.samplerStop)
		}
		s.samplerStop = nil
	}
	if s.Log != nil {
		record(s.Log.Close())
		s.Log = nil
	}
	if s.Store != nil {
		record(s.Store.Close())
		s.Store = nil
	}
	if s.Graph != nil {
		s.Graph.Clear()
	}
	if s.lock != nil {
		record(s.lock.Unlock())
		s.lock = nil
	}
	if s.Logger != nil {
		record(s.Logger.Close())
		s.Logger = nil
	}
	return firstErr
}
