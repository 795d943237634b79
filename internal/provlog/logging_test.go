package provlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crewjam/rfc5424"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	require.Equal(t, WARN, lvl)

	_, err = LevelFromString("bogus")
	require.ErrorIs(t, err, ErrInvalidLevel)
}

func TestLoggerWritesAndFiltersLevel(t *testing.T) {
	p := filepath.Join(t.TempDir(), "session.log")
	lgr, err := NewFile(p)
	require.NoError(t, err)
	require.NoError(t, lgr.SetLevel(WARN))

	require.NoError(t, lgr.Info("should be filtered"))
	require.NoError(t, lgr.Warn("pid lookup miss", rfc5424.SDParam{Name: "pid", Value: "42"}))
	require.NoError(t, lgr.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Contains(t, string(b), "pid lookup miss")
	require.NotContains(t, string(b), "should be filtered")
}

func TestDiscardLoggerNeverErrors(t *testing.T) {
	lgr := NewDiscard()
	require.NoError(t, lgr.Error("whatever"))
	require.NoError(t, lgr.Close())
}

func TestClosedLoggerRejectsWrites(t *testing.T) {
	lgr := NewDiscard()
	require.NoError(t, lgr.Close())
	require.ErrorIs(t, lgr.Error("after close"), ErrNotOpen)
}
