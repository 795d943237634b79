// Package normalize implements the Event Normalizer: it turns per-syscall
// deliveries from the (out-of-scope) tracer into the canonical events in
// internal/event. It also owns pid -> composite-pidkey minting, since a
// fresh composite key must be struck on every EXEC and SPAWN.
package normalize

import (
	"sync"

	"github.com/charmoniumQ/provenance-to-use/internal/event"
)

// Normalizer tracks the current composite pidkey for every live OS pid and
// translates tracer deliveries into canonical events.
type Normalizer struct {
	mu      sync.Mutex
	current map[int]event.PIDKey
}

func New() *Normalizer {
	return &Normalizer{current: make(map[int]event.PIDKey)}
}

// PidKey returns the current composite key for pid, if one has been minted.
func (n *Normalizer) PidKey(pid int) (event.PIDKey, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k, ok := n.current[pid]
	return k, ok
}

// mint strikes a fresh composite key for pid and records it as current.
func (n *Normalizer) mint(pid int, usec int64) event.PIDKey {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := event.PIDKey{PID: pid, StartUsec: usec}
	n.current[pid] = k
	return k
}

func (n *Normalizer) resolve(pid int, fallbackUsec int64) event.PIDKey {
	if k, ok := n.PidKey(pid); ok {
		return k
	}
	return n.mint(pid, fallbackUsec)
}

func openModeDirection(modeBits int) event.Direction {
	switch modeBits & 0x3 {
	case 0:
		return event.ReadOnly
	case 1:
		return event.WriteOnly
	case 2:
		return event.ReadWrite
	}
	return event.UnknownDirection
}

// Open normalizes a successful `open` syscall delivery into an IO event.
// modeBits is the raw open flags; only the low two bits (the access-mode
// field) are consulted, per spec.md section 4.1. A negative ret suppresses
// the event entirely.
func (n *Normalizer) Open(pid int, ret int, path string, modeBits int, wallclockUsec int64) (event.Event, bool) {
	if ret < 0 {
		return event.Event{}, false
	}
	return event.Event{
		Subject:       n.resolve(pid, wallclockUsec),
		WallclockUsec: wallclockUsec,
		Kind:          event.IO,
		IO:            event.IOPayload{Path: path, Dir: openModeDirection(modeBits)},
	}, true
}

// ReadWrite normalizes a successful read/write-family call against an
// already-open file descriptor. The collaborator tells us which half of
// the pair this was (write); direction is a plain READ or WRITE since a
// single read or write call is never READ_WRITE.
func (n *Normalizer) ReadWrite(pid int, ret int, path string, write bool, wallclockUsec int64) (event.Event, bool) {
	if ret < 0 {
		return event.Event{}, false
	}
	dir := event.ReadOnly
	if write {
		dir = event.WriteOnly
	}
	return event.Event{
		Subject:       n.resolve(pid, wallclockUsec),
		WallclockUsec: wallclockUsec,
		Kind:          event.IO,
		IO:            event.IOPayload{Path: path, Dir: dir},
	}, true
}

// Rename normalizes a rename-like call: the source path is touched as
// READ_WRITE (its old content is consumed and then the name is released)
// and the destination path is touched as WRITE, per spec.md section 4.1.
func (n *Normalizer) Rename(pid int, ret int, src, dst string, wallclockUsec int64) ([]event.Event, bool) {
	if ret < 0 {
		return nil, false
	}
	subject := n.resolve(pid, wallclockUsec)
	return []event.Event{
		{Subject: subject, WallclockUsec: wallclockUsec, Kind: event.IO, IO: event.IOPayload{Path: src, Dir: event.ReadWrite}},
		{Subject: subject, WallclockUsec: wallclockUsec, Kind: event.IO, IO: event.IOPayload{Path: dst, Dir: event.WriteOnly}},
	}, true
}

// ExecEnter normalizes entry into execve, before the image has replaced.
// This mints the pid's new composite identity immediately, since the
// EXECDONE event (and every event after it) belongs to the new identity
// even if execve ultimately fails; EXECDONE only confirms the replace
// succeeded and attaches the process to the sampler.
func (n *Normalizer) ExecEnter(pid, ppid int, absPath, cwd string, argv []string, wallclockUsec int64) event.Event {
	parent := n.resolve(ppid, wallclockUsec)
	subject := n.mint(pid, wallclockUsec)
	return event.Event{
		Subject:       subject,
		WallclockUsec: wallclockUsec,
		Kind:          event.EXEC,
		Exec: event.ExecPayload{
			PPid:    parent,
			AbsPath: absPath,
			Cwd:     cwd,
			Argv:    argv,
		},
	}
}

// ExecDone normalizes a successful return from execve.
func (n *Normalizer) ExecDone(pid, ppid int, ret int, wallclockUsec int64) (event.Event, bool) {
	if ret < 0 {
		return event.Event{}, false
	}
	return event.Event{
		Subject:       n.resolve(pid, wallclockUsec),
		WallclockUsec: wallclockUsec,
		Kind:          event.EXECDONE,
		ExecDone:      event.ExecDonePayload{PPid: n.resolve(ppid, wallclockUsec)},
	}, true
}

// Spawn normalizes a clone/fork that yields a new task: it mints the
// child's first composite key and returns a SPAWN event attributed to the
// parent's current identity.
func (n *Normalizer) Spawn(ppid, childPid int, wallclockUsec int64) event.Event {
	parent := n.resolve(ppid, wallclockUsec)
	child := n.mint(childPid, wallclockUsec)
	return event.Event{
		Subject:       parent,
		WallclockUsec: wallclockUsec,
		Kind:          event.SPAWN,
		Spawn:         event.SpawnPayload{Child: child},
	}
}

// Lexit synthesizes a LEXIT event for a pid the sampler can no longer find
// in /proc. A real exit delivered by the tracer is normalized the same way.
func (n *Normalizer) Lexit(pid int, wallclockUsec int64) event.Event {
	return event.Event{
		Subject:       n.resolve(pid, wallclockUsec),
		WallclockUsec: wallclockUsec,
		Kind:          event.LEXIT,
	}
}

func (n *Normalizer) sock(pid int, kind event.Kind, ret int, fd int, ep event.Endpoint, lenReq, flags, lenAct int, buf []byte, wallclockUsec int64) (event.Event, bool) {
	if ret < 0 {
		return event.Event{}, false
	}
	return event.Event{
		Subject:       n.resolve(pid, wallclockUsec),
		WallclockUsec: wallclockUsec,
		Kind:          kind,
		Sock: event.SockPayload{
			FD: fd, Endpoint: ep, LenRequested: lenReq, Flags: flags, LenActual: lenAct, Buf: buf,
		},
	}, true
}

func (n *Normalizer) SockConnect(pid, ret, fd int, ep event.Endpoint, wallclockUsec int64) (event.Event, bool) {
	return n.sock(pid, event.SockConnect, ret, fd, ep, 0, 0, 0, nil, wallclockUsec)
}

func (n *Normalizer) SockSend(pid, ret, fd int, ep event.Endpoint, lenReq, flags, lenAct int, buf []byte, wallclockUsec int64) (event.Event, bool) {
	return n.sock(pid, event.SockSend, ret, fd, ep, lenReq, flags, lenAct, buf, wallclockUsec)
}

func (n *Normalizer) SockRecv(pid, ret, fd int, ep event.Endpoint, lenReq, flags, lenAct int, buf []byte, wallclockUsec int64) (event.Event, bool) {
	return n.sock(pid, event.SockRecv, ret, fd, ep, lenReq, flags, lenAct, buf, wallclockUsec)
}

// Act normalizes a coarse-grained activity marker.
func (n *Normalizer) Act(pid int, label string, wallclockUsec int64) event.Event {
	return event.Event{
		Subject:       n.resolve(pid, wallclockUsec),
		WallclockUsec: wallclockUsec,
		Kind:          event.ACT,
		Act:           event.ActPayload{Label: label},
	}
}
