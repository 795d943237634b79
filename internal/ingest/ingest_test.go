package ingest

import (
	"path/filepath"
	"testing"

	"github.com/charmoniumQ/provenance-to-use/internal/event"
	"github.com/charmoniumQ/provenance-to-use/internal/graph"
	"github.com/charmoniumQ/provenance-to-use/internal/normalize"
	"github.com/charmoniumQ/provenance-to-use/internal/sampler"
	"github.com/charmoniumQ/provenance-to-use/internal/store"
	"github.com/charmoniumQ/provenance-to-use/internal/txtlog"
	"github.com/stretchr/testify/require"
)

func newIngest(t *testing.T) *Ingest {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.Init())
	s, err := store.Open(filepath.Join(t.TempDir(), "s.log_db"))
	require.NoError(t, err)
	l, err := txtlog.Create(filepath.Join(t.TempDir(), "s.log"), txtlog.Header{})
	require.NoError(t, err)
	return New(g, s, l, sampler.NewTrackedSet(), nil)
}

func TestApplyIOWritesGraphStoreAndLog(t *testing.T) {
	i := newIngest(t)
	n := normalize.New()
	ev, ok := n.Open(1, 3, "/tmp/out", 1, 1_000_000)
	require.True(t, ok)

	i.Apply(ev)

	require.Equal(t, 2, i.Graph.NodeCount())
	require.Equal(t, 1, i.Graph.EdgeCount())

	pidkey := ev.Subject.String()
	_, found, err := i.Store.Get(store.IOByPidKey(pidkey, "WRITE", ev.WallclockUsec))
	require.NoError(t, err)
	require.True(t, found)
}

func TestApplyExecDoneTracksPid(t *testing.T) {
	i := newIngest(t)
	n := normalize.New()
	execEv := n.ExecEnter(42, 1, "/bin/true", "/", []string{"true"}, 100)
	i.Apply(execEv)
	doneEv, ok := n.ExecDone(42, 1, 0, 200)
	require.True(t, ok)
	i.Apply(doneEv)

	require.Equal(t, 1, i.Tracked.Len())
}

func TestApplyLexitUntracksPid(t *testing.T) {
	i := newIngest(t)
	n := normalize.New()
	execEv := n.ExecEnter(42, 1, "/bin/true", "/", []string{"true"}, 100)
	i.Apply(execEv)
	doneEv, _ := n.ExecDone(42, 1, 0, 200)
	i.Apply(doneEv)
	i.Apply(n.Lexit(42, 300))

	require.Equal(t, 0, i.Tracked.Len())
}

func TestApplySpawnAddsInactiveEdge(t *testing.T) {
	i := newIngest(t)
	n := normalize.New()
	i.Apply(n.ExecEnter(1, 0, "/bin/parent", "/", nil, 10))
	i.Apply(n.Spawn(1, 2, 20))
	require.Equal(t, 1, i.Graph.EdgeCount())
	for _, e := range i.Graph.Edges() {
		require.Equal(t, graph.Inactive, e.Label)
	}
}

func TestApplyActPersistsLabel(t *testing.T) {
	i := newIngest(t)
	n := normalize.New()
	i.Apply(n.ExecEnter(1, 0, "/bin/a", "/", nil, 10))
	actEv := n.Act(1, "checkpoint", 50)
	i.Apply(actEv)
	_, found, err := i.Store.Get(store.ActKey(actEv.Subject.String(), actEv.WallclockUsec))
	require.NoError(t, err)
	require.True(t, found)
}

func TestApplySockConnectPersistsDualIndex(t *testing.T) {
	i := newIngest(t)
	n := normalize.New()
	i.Apply(n.ExecEnter(1, 0, "/bin/a", "/", nil, 10))
	ev, ok := n.SockConnect(1, 0, 5, event.Endpoint{LocalPort: 1234, RemoteAddr: "2.2.2.2", RemotePort: 80}, 70)
	require.True(t, ok)
	i.Apply(ev)

	pidkey := ev.Subject.String()
	_, found, err := i.Store.Get(store.SockByPidKey(pidkey, ev.WallclockUsec, "SOCK_CONNECT", 5, ev.Sock.LenRequested, ev.Sock.Flags, ev.Sock.LenActual))
	require.NoError(t, err)
	require.True(t, found)
	_, found, err = i.Store.Get(store.SockByActionKey(pidkey, ev.WallclockUsec, "SOCK_CONNECT", 5, ev.Sock.LenRequested, ev.Sock.Flags, ev.Sock.LenActual))
	require.NoError(t, err)
	require.True(t, found)
}
