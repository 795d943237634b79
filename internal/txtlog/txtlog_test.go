package txtlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmoniumQ/provenance-to-use/internal/event"
	"github.com/stretchr/testify/require"
)

func TestHeaderThenRecords(t *testing.T) {
	p := filepath.Join(t.TempDir(), "session.log")
	w, err := Create(p, Header{
		Agent: "tracerd", Machine: "host-1", Namespace: "ns-1",
		Subns: "sub-1", Fullns: "ns-1.sub-1", Parentns: "",
	})
	require.NoError(t, err)

	require.NoError(t, w.Exec(100, 42, 7, "/usr/bin/cat", "/home/user", []string{"cat", "f"}, false))
	require.NoError(t, w.ExecDone(100, 42, 7))
	require.NoError(t, w.IO(101, 42, event.ReadOnly, "/etc/hosts"))
	require.NoError(t, w.IO(101, 42, event.UnknownDirection, "/dev/weird"))
	require.NoError(t, w.Spawn(102, 42, 99))
	require.NoError(t, w.Mem(103, 42, 2048))
	require.NoError(t, w.Lexit(104, 42))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	require.Equal(t, "# @agent: tracerd", lines[0])
	require.Equal(t, "# @namespace: ns-1", lines[2])
	require.Equal(t, `100 42 EXECVE 7 /usr/bin/cat /home/user [ "cat", "f", ]`, lines[6])
	require.Equal(t, "100 42 EXECVE2 7", lines[7])
	require.Equal(t, "101 42 READ /etc/hosts", lines[8])
	require.Equal(t, "101 42 UNKNOWNIO /dev/weird", lines[9])
	require.Equal(t, "102 42 SPAWN 99", lines[10])
	require.Equal(t, "103 42 MEM 2048", lines[11])
	require.Equal(t, "104 42 LEXIT", lines[12])
}
