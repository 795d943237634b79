// Package store implements the keyed log store: a durable, append-only,
// string-keyed record set that backs the versioned graph and can be
// reconstructed without replaying in-memory code.
//
// Grounded on gravwell-gravwell's IngestCache (cache.go): a single-bucket
// bolt database opened with a timeout so a second process racing for the
// same file fails fast instead of blocking forever.
package store

import (
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	dbOpenTimeout = 500 * time.Millisecond
	bucketName    = "prov"
)

var (
	ErrNoActiveDB     = errors.New("keyed store: no active database")
	ErrBoltLockFailed = errors.New("keyed store: failed to acquire lock, file is held by another process")
)

// Store is a bolt-backed handle onto one session's keyed log.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bolt database at path and ensures the
// single bucket this store uses exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0660, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, ErrBoltLockFailed
		}
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database. It is idempotent: closing a store
// whose db is already nil (or already closed) is a no-op, mirroring
// IngestCache.Close's nil-db short circuit.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put writes val under key, overwriting any existing value. Per spec.md
// invariant 7, re-emitting the same record is idempotent: writing the same
// (key, val) pair twice leaves the store in the same observable state.
func (s *Store) Put(key string, val []byte) error {
	if s == nil || s.db == nil {
		return ErrNoActiveDB
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), val)
	})
}

// PutString is a convenience wrapper over Put for scalar string values.
func (s *Store) PutString(key, val string) error {
	return s.Put(key, []byte(val))
}

// Get reads the value stored under key. The returned byte slice is a copy
// safe to retain past the enclosing transaction.
func (s *Store) Get(key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrNoActiveDB
	}
	var out []byte
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v != nil {
			found = true
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, found, err
}

// ForEachPrefix calls fn for every key in the store that begins with
// prefix. Used only by Reconstruct: normal operation never needs to scan.
func (s *Store) ForEachPrefix(prefix string, fn func(key string, val []byte) error) error {
	if s == nil || s.db == nil {
		return ErrNoActiveDB
	}
	p := []byte(prefix)
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Key helpers. These render the exact schema in spec.md section 4.3; every
// producer and consumer of the keyed store should build keys through these
// functions rather than formatting them ad hoc.

func PidIndexKey(pid int) string { return fmt.Sprintf("pid.%d", pid) }

func ParentKey(pidkey string) string { return fmt.Sprintf("prv.pid.%s.parent", pidkey) }

func ExecKey(ppidkey string, usec int64) string {
	return fmt.Sprintf("prv.pid.%s.exec.%d", ppidkey, usec)
}

func PathKey(pidkey string) string  { return fmt.Sprintf("prv.pid.%s.path", pidkey) }
func PwdKey(pidkey string) string   { return fmt.Sprintf("prv.pid.%s.pwd", pidkey) }
func ArgsKey(pidkey string) string  { return fmt.Sprintf("prv.pid.%s.args", pidkey) }
func StartKey(pidkey string) string { return fmt.Sprintf("prv.pid.%s.start", pidkey) }
func OkKey(pidkey string) string    { return fmt.Sprintf("prv.pid.%s.ok", pidkey) }
func LexitKey(pidkey string) string { return fmt.Sprintf("prv.pid.%s.lexit", pidkey) }

func SpawnKey(ppidkey string, usec int64) string {
	return fmt.Sprintf("prv.pid.%s.spawn.%d", ppidkey, usec)
}

func IOByPidKey(pidkey, action string, usec int64) string {
	return fmt.Sprintf("prv.iopid.%s.%s.%d", pidkey, action, usec)
}

func IOByFileKey(absPath, pidkey string, usec int64) string {
	return fmt.Sprintf("prv.iofile.%s.%s.%d", absPath, pidkey, usec)
}

func StatKey(pidkey string, usec int64) string {
	return fmt.Sprintf("prv.pid.%s.stat.%d", pidkey, usec)
}

func IOStatKey(pidkey string, usec int64) string {
	return fmt.Sprintf("prv.pid.%s.iostat.%d", pidkey, usec)
}

func ActKey(pidkey string, usec int64) string {
	return fmt.Sprintf("prv.pid.%s.act.%d", pidkey, usec)
}

func SockByPidKey(pidkey string, usec int64, action string, fd, lp, flags, lr int) string {
	return fmt.Sprintf("prv.pid.%s.sock.%d.%s.%d.%d.%d.%d", pidkey, usec, action, fd, lp, flags, lr)
}

func SockByActionKey(pidkey string, usec int64, action string, fd, lp, flags, lr int) string {
	return fmt.Sprintf("prv.sock.%s.action.%d.%s.%d.%d.%d.%d", pidkey, usec, action, fd, lp, flags, lr)
}

const (
	MetaAgent     = "meta.agent"
	MetaMachine   = "meta.machine"
	MetaNamespace = "meta.namespace"
	MetaSubns     = "meta.subns"
	MetaFullns    = "meta.fullns"
	MetaParentns  = "meta.parentns"
	MetaRoot      = "meta.root"
)
