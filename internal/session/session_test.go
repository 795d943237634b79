package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmoniumQ/provenance-to-use/internal/config"
	"github.com/stretchr/testify/require"
)

func TestPickFreeSuffixSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "provenance.1.log"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "provenance.2.log"), nil, 0644))

	n, err := pickFreeSuffix(dir, "provenance")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestPickFreeSuffixEmptyDir(t *testing.T) {
	n, err := pickFreeSuffix(t.TempDir(), "provenance")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestBootstrapCreatesArtifactsAndCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Session{PackageDir: dir, RootName: "provenance"}

	s, err := Bootstrap(cfg, "tracerd", "host-1", func(pid int) (string, bool) { return "", false })
	require.NoError(t, err)
	require.NotEmpty(t, s.Namespace)
	require.FileExists(t, filepath.Join(dir, "provenance.1.log"))
	require.FileExists(t, filepath.Join(dir, "provenance.1.log_db"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestBootstrapTwiceClaimsDistinctSuffixes(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Session{PackageDir: dir, RootName: "provenance"}
	lookup := func(pid int) (string, bool) { return "", false }

	s1, err := Bootstrap(cfg, "tracerd", "host-1", lookup)
	require.NoError(t, err)
	defer s1.Close()

	s2, err := Bootstrap(cfg, "tracerd", "host-1", lookup)
	require.NoError(t, err)
	defer s2.Close()

	require.FileExists(t, filepath.Join(dir, "provenance.1.log"))
	require.FileExists(t, filepath.Join(dir, "provenance.2.log"))
}
