package store

import (
	"strconv"
	"strings"
)

// ProcessRecord summarizes one process identity's keyed records.
type ProcessRecord struct {
	PIDKey   string
	Path     string
	Pwd      string
	Args     string
	Start    string
	ExecOK   string
	LexitAt  string
	IOEvents []IOEvent
}

// IOEvent is one reconstructed `prv.iopid.*` record.
type IOEvent struct {
	Action string
	Usec   int64
	Path   string
}

// ReconstructedSession is the plain summary Reconstruct rebuilds from the
// `meta.`, `prv.pid.` and `prv.iopid.` keys. It demonstrates spec.md's invariant that the
// store need never be scanned to be interpreted during normal operation —
// reconstruction is possible, not required.
type ReconstructedSession struct {
	Processes map[string]*ProcessRecord
	Meta      map[string]string
}

func newReconstructedSession() *ReconstructedSession {
	return &ReconstructedSession{
		Processes: make(map[string]*ProcessRecord),
		Meta:      make(map[string]string),
	}
}

func (rs *ReconstructedSession) proc(pidkey string) *ProcessRecord {
	p, ok := rs.Processes[pidkey]
	if !ok {
		p = &ProcessRecord{PIDKey: pidkey}
		rs.Processes[pidkey] = p
	}
	return p
}

// Reconstruct walks the `meta.`, `prv.pid.` and `prv.iopid.` keys and
// rebuilds session metadata, per-process scalar records (path, pwd, args,
// start, ok, lexit) and I/O events into a plain summary struct. Exec and
// spawn edges, sampler records, `prv.iofile.` and socket records are not
// rebuilt.
func (s *Store) Reconstruct() (*ReconstructedSession, error) {
	rs := newReconstructedSession()

	if err := s.ForEachPrefix("meta.", func(key string, val []byte) error {
		rs.Meta[key] = string(val)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.ForEachPrefix("prv.pid.", func(key string, val []byte) error {
		rest := strings.TrimPrefix(key, "prv.pid.")
		// <pidkey> is itself the composite "pid.usec" form, so the field
		// suffix only starts after the first two dot-separated tokens.
		parts := strings.SplitN(rest, ".", 3)
		if len(parts) != 3 {
			return nil
		}
		pidkey, field := parts[0]+"."+parts[1], parts[2]
		p := rs.proc(pidkey)
		switch field {
		case "path":
			p.Path = string(val)
		case "pwd":
			p.Pwd = string(val)
		case "args":
			p.Args = string(val)
		case "start":
			p.Start = string(val)
		case "ok":
			p.ExecOK = string(val)
		case "lexit":
			p.LexitAt = string(val)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.ForEachPrefix("prv.iopid.", func(key string, val []byte) error {
		rest := strings.TrimPrefix(key, "prv.iopid.")
		// <pidkey> is "pid.usec", followed by <action>.<usec>.
		parts := strings.SplitN(rest, ".", 4)
		if len(parts) != 4 {
			return nil
		}
		pidkey, action, usecStr := parts[0]+"."+parts[1], parts[2], parts[3]
		usec, _ := strconv.ParseInt(usecStr, 10, 64)
		p := rs.proc(pidkey)
		p.IOEvents = append(p.IOEvents, IOEvent{Action: action, Usec: usec, Path: string(val)})
		return nil
	}); err != nil {
		return nil, err
	}

	return rs, nil
}
