// Package event defines the canonical provenance events produced by the
// normalizer (component A) and consumed by the versioned graph, the keyed
// store, and the textual log writer.
package event

import "fmt"

// Kind identifies which canonical event a record carries.
type Kind int

const (
	IO Kind = iota
	EXEC
	EXECDONE
	SPAWN
	LEXIT
	SockConnect
	SockSend
	SockRecv
	ACT
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "IO"
	case EXEC:
		return "EXEC"
	case EXECDONE:
		return "EXECDONE"
	case SPAWN:
		return "SPAWN"
	case LEXIT:
		return "LEXIT"
	case SockConnect:
		return "SOCK_CONNECT"
	case SockSend:
		return "SOCK_SEND"
	case SockRecv:
		return "SOCK_RECV"
	case ACT:
		return "ACT"
	}
	return "UNKNOWN"
}

// Direction is the read/write classification of an IO event.
type Direction int

const (
	ReadOnly Direction = iota
	WriteOnly
	ReadWrite
	UnknownDirection
)

func (d Direction) String() string {
	switch d {
	case ReadOnly:
		return "READ"
	case WriteOnly:
		return "WRITE"
	case ReadWrite:
		return "READ-WRITE"
	}
	return "UNKNOWNIO"
}

// PIDKey is the composite process identity: an OS pid is reused across the
// lifetime of a session, so every process is addressed by (pid, the
// microsecond timestamp the core first learned of it).
type PIDKey struct {
	PID       int
	StartUsec int64
}

func (k PIDKey) String() string {
	return fmt.Sprintf("%d.%d", k.PID, k.StartUsec)
}

func (k PIDKey) Zero() bool {
	return k.PID == 0 && k.StartUsec == 0
}

// Endpoint describes a socket's local/remote address pair as translated
// from the kernel sockaddr by the tracer.
type Endpoint struct {
	LocalAddr  string
	LocalPort  int
	RemoteAddr string
	RemotePort int
}

// IOPayload carries the fields of an IO event.
type IOPayload struct {
	Path string
	Dir  Direction
}

// ExecPayload carries the fields of an EXEC event, emitted on entry to
// execve before the image has replaced.
type ExecPayload struct {
	PPid    PIDKey
	AbsPath string
	Cwd     string
	Argv    []string
}

// ExecDonePayload carries the fields of an EXECDONE event.
type ExecDonePayload struct {
	PPid PIDKey
}

// SpawnPayload carries the fields of a SPAWN event.
type SpawnPayload struct {
	Child PIDKey
}

// SockPayload carries the fields shared by SOCK_CONNECT, SOCK_SEND and
// SOCK_RECV events.
type SockPayload struct {
	FD           int
	Endpoint     Endpoint
	LenRequested int
	Flags        int
	LenActual    int
	Buf          []byte
}

// ActPayload carries a coarse-grained activity marker.
type ActPayload struct {
	Label string
}

// Event is the normalizer's canonical output. At most one of the payload
// fields (IO, Exec, ExecDone, Spawn, Sock, Act) is populated, selected by
// Kind; a LEXIT event carries none.
type Event struct {
	Subject       PIDKey
	WallclockUsec int64
	Kind          Kind

	IO       IOPayload
	Exec     ExecPayload
	ExecDone ExecDonePayload
	Spawn    SpawnPayload
	Sock     SockPayload
	Act      ActPayload
}
