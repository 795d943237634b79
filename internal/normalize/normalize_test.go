package normalize

import (
	"testing"

	"github.com/charmoniumQ/provenance-to-use/internal/event"
	"github.com/stretchr/testify/require"
)

func TestOpenSuppressedOnFailure(t *testing.T) {
	n := New()
	_, ok := n.Open(1, -1, "/etc/hosts", 0, 100)
	require.False(t, ok)
}

func TestOpenModeClassification(t *testing.T) {
	n := New()
	ev, ok := n.Open(1, 3, "/etc/hosts", 0, 100)
	require.True(t, ok)
	require.Equal(t, event.ReadOnly, ev.IO.Dir)

	ev, ok = n.Open(1, 3, "/tmp/out", 1, 100)
	require.True(t, ok)
	require.Equal(t, event.WriteOnly, ev.IO.Dir)

	ev, ok = n.Open(1, 3, "/tmp/both", 2, 100)
	require.True(t, ok)
	require.Equal(t, event.ReadWrite, ev.IO.Dir)
}

func TestRenameEmitsSourceReadWriteAndDestWrite(t *testing.T) {
	n := New()
	evs, ok := n.Rename(1, 0, "/tmp/a", "/tmp/b", 100)
	require.True(t, ok)
	require.Len(t, evs, 2)
	require.Equal(t, event.ReadWrite, evs[0].IO.Dir)
	require.Equal(t, "/tmp/a", evs[0].IO.Path)
	require.Equal(t, event.WriteOnly, evs[1].IO.Dir)
	require.Equal(t, "/tmp/b", evs[1].IO.Path)
}

func TestExecMintsFreshCompositeKeyEachTime(t *testing.T) {
	n := New()
	first := n.ExecEnter(42, 1, "/bin/a", "/", []string{"a"}, 1000)
	second := n.ExecEnter(42, 1, "/bin/b", "/", []string{"b"}, 2000)
	require.NotEqual(t, first.Subject, second.Subject)

	k, ok := n.PidKey(42)
	require.True(t, ok)
	require.Equal(t, second.Subject, k)
}

func TestSpawnMintsChildKeyAndAttributesParent(t *testing.T) {
	n := New()
	n.ExecEnter(1, 0, "/bin/parent", "/", nil, 100)
	ev := n.Spawn(1, 2, 500)
	require.Equal(t, event.SPAWN, ev.Kind)

	childKey, ok := n.PidKey(2)
	require.True(t, ok)
	require.Equal(t, childKey, ev.Spawn.Child)

	parentKey, ok := n.PidKey(1)
	require.True(t, ok)
	require.Equal(t, parentKey, ev.Subject)
}

func TestSockCallsSuppressedOnFailure(t *testing.T) {
	n := New()
	_, ok := n.SockConnect(1, -1, 3, event.Endpoint{}, 100)
	require.False(t, ok)

	ev, ok := n.SockSend(1, 10, 3, event.Endpoint{RemoteAddr: "1.2.3.4", RemotePort: 80}, 10, 0, 10, []byte("hi"), 100)
	require.True(t, ok)
	require.Equal(t, event.SockSend, ev.Kind)
	require.Equal(t, "1.2.3.4", ev.Sock.Endpoint.RemoteAddr)
}

func TestLexitResolvesExistingSubject(t *testing.T) {
	n := New()
	n.ExecEnter(7, 0, "/bin/x", "/", nil, 100)
	ev := n.Lexit(7, 200)
	k, _ := n.PidKey(7)
	require.Equal(t, k, ev.Subject)
	require.Equal(t, event.LEXIT, ev.Kind)
}
