// Package ingest wires the Event Normalizer's output into the three
// consumers named in spec.md's flow diagram: the versioned graph, the
// keyed store, and the textual log. It is the synchronous path driven by
// the tracer thread (spec.md section 5); the sampler feeds the store and
// textual log independently on its own schedule.
package ingest

import (
	"fmt"

	"github.com/charmoniumQ/provenance-to-use/internal/event"
	"github.com/charmoniumQ/provenance-to-use/internal/graph"
	"github.com/charmoniumQ/provenance-to-use/internal/provlog"
	"github.com/charmoniumQ/provenance-to-use/internal/sampler"
	"github.com/charmoniumQ/provenance-to-use/internal/store"
	"github.com/charmoniumQ/provenance-to-use/internal/txtlog"
)

// Ingest applies one canonical event at a time to the graph, the keyed
// store, and the textual log. Persistence failures are logged and
// swallowed per spec.md section 7: provenance is best-effort and must
// never abort the traced program.
type Ingest struct {
	Graph   *graph.Graph
	Store   *store.Store
	Log     *txtlog.Writer
	Tracked *sampler.TrackedSet
	Logger  *provlog.Logger
}

func New(g *graph.Graph, s *store.Store, l *txtlog.Writer, tracked *sampler.TrackedSet, logger *provlog.Logger) *Ingest {
	return &Ingest{Graph: g, Store: s, Log: l, Tracked: tracked, Logger: logger}
}

func (i *Ingest) warn(format string, args ...any) {
	if i.Logger != nil {
		i.Logger.Warn(fmt.Sprintf(format, args...))
	}
}

func actionName(dir event.Direction) string {
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

func toMode(dir event.Direction) graph.Mode {
	switch dir {
	case event.ReadOnly:
		return graph.ReadOnly
	case event.WriteOnly:
		return graph.WriteOnly
	case event.ReadWrite:
		return graph.ReadWrite
	}
	return graph.ReadOnly
}

// Apply dispatches ev to every consumer appropriate for its kind.
func (i *Ingest) Apply(ev event.Event) {
	sec := ev.WallclockUsec / 1_000_000
	pid := ev.Subject.PID
	pidkey := ev.Subject.String()

	switch ev.Kind {
	case event.IO:
		mode := toMode(ev.IO.Dir)
		if err := i.Graph.Open(ev.Subject, ev.IO.Path, mode); err != nil {
			i.warn("graph open failed for pid %d path %s: %v", pid, ev.IO.Path, err)
		}
		if err := i.Graph.Close(ev.Subject, ev.IO.Path, mode); err != nil {
			i.warn("graph close failed for pid %d path %s: %v", pid, ev.IO.Path, err)
		}
		action := actionName(ev.IO.Dir)
		if err := i.Store.Put(store.IOByPidKey(pidkey, action, ev.WallclockUsec), []byte(ev.IO.Path)); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Store.Put(store.IOByFileKey(ev.IO.Path, pidkey, ev.WallclockUsec), []byte(action)); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Log.IO(sec, pid, ev.IO.Dir, ev.IO.Path); err != nil {
			i.warn("textual log write failed: %v", err)
		}

	case event.EXEC:
		ppidkey := ev.Exec.PPid.String()
		if err := i.Store.PutString(store.ParentKey(pidkey), ppidkey); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Store.PutString(store.ExecKey(ppidkey, ev.WallclockUsec), pidkey); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Store.PutString(store.PathKey(pidkey), ev.Exec.AbsPath); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Store.PutString(store.PwdKey(pidkey), ev.Exec.Cwd); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Store.PutString(store.ArgsKey(pidkey), fmt.Sprintf("%q", ev.Exec.Argv)); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Store.PutString(store.StartKey(pidkey), fmt.Sprintf("%d", ev.WallclockUsec)); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Log.Exec(sec, pid, ev.Exec.PPid.PID, ev.Exec.AbsPath, ev.Exec.Cwd, ev.Exec.Argv, false); err != nil {
			i.warn("textual log write failed: %v", err)
		}

	case event.EXECDONE:
		if err := i.Store.PutString(store.OkKey(pidkey), fmt.Sprintf("%d", ev.WallclockUsec)); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Log.ExecDone(sec, pid, ev.ExecDone.PPid.PID); err != nil {
			i.warn("textual log write failed: %v", err)
		}
		i.Tracked.Add(pid)

	case event.SPAWN:
		if err := i.Graph.Spawn(ev.Subject, ev.Spawn.Child); err != nil {
			i.warn("graph spawn failed: %v", err)
		}
		childKey := ev.Spawn.Child.String()
		if err := i.Store.PutString(store.SpawnKey(pidkey, ev.WallclockUsec), childKey); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Log.Spawn(sec, pid, ev.Spawn.Child.PID); err != nil {
			i.warn("textual log write failed: %v", err)
		}

	case event.LEXIT:
		if err := i.Store.PutString(store.LexitKey(pidkey), fmt.Sprintf("%d", ev.WallclockUsec)); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Log.Lexit(sec, pid); err != nil {
			i.warn("textual log write failed: %v", err)
		}
		i.Tracked.Remove(pid)

	case event.SockConnect, event.SockSend, event.SockRecv:
		action := ev.Kind.String()
		k := store.SockByPidKey(pidkey, ev.WallclockUsec, action, ev.Sock.FD, ev.Sock.LenRequested, ev.Sock.Flags, ev.Sock.LenActual)
		if err := i.Store.Put(k, ev.Sock.Buf); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		k2 := store.SockByActionKey(pidkey, ev.WallclockUsec, action, ev.Sock.FD, ev.Sock.LenRequested, ev.Sock.Flags, ev.Sock.LenActual)
		if err := i.Store.Put(k2, ev.Sock.Buf); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Log.Sock(sec, pid, ev.Sock.FD, ev.Sock.LenRequested, ev.Sock.Flags, ev.Sock.LenActual, action); err != nil {
			i.warn("textual log write failed: %v", err)
		}

	case event.ACT:
		if err := i.Store.PutString(store.ActKey(pidkey, ev.WallclockUsec), ev.Act.Label); err != nil {
			i.warn("keyed store write failed: %v", err)
		}
		if err := i.Log.Act(sec, pid, ev.Act.Label); err != nil {
			i.warn("textual log write failed: %v", err)
		}
	}
}
