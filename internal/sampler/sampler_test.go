package sampler

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackedSetAddRemoveSwap(t *testing.T) {
	ts := NewTrackedSet()
	ts.Add(1)
	ts.Add(2)
	ts.Add(3)
	require.Equal(t, 3, ts.Len())

	require.True(t, ts.Remove(2))
	require.Equal(t, 2, ts.Len())
	require.False(t, ts.Remove(2))

	snap := ts.Snapshot()
	require.ElementsMatch(t, []int{1, 3}, snap)
}

func TestParseRSSPagesFieldOffset(t *testing.T) {
	// 24th field overall is "4096"; comm contains a space and parens to
	// exercise the ") " split.
	line := "42 (my weird (comm)) S 1 1 1 0 -1 4194560 0 0 0 0 " +
		"0 0 0 0 20 0 1 0 12345 1048576 4096 ..."
	rss, err := parseRSSPages(line)
	require.NoError(t, err)
	require.Equal(t, int64(4096), rss)
}

func TestParseRSSPagesMalformed(t *testing.T) {
	_, err := parseRSSPages("not a stat line")
	require.Error(t, err)
}

type fakeSink struct {
	mu      sync.Mutex
	stats   int
	iostats int
	mem     int
	lexits  []int
}

func (f *fakeSink) PutStat(pidkey string, usec int64, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats++
	return nil
}

func (f *fakeSink) PutIOStat(pidkey string, usec int64, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.iostats++
	return nil
}

func (f *fakeSink) Mem(sec int64, pid int, rssPages int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem++
	return nil
}

func (f *fakeSink) Lexit(sec int64, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lexits = append(f.lexits, pid)
	return nil
}

func TestRunSweepsTrackedPidAndExitsWhenEmpty(t *testing.T) {
	ts := NewTrackedSet()
	self := os.Getpid()
	ts.Add(self)

	sink := &fakeSink{}
	s := New(ts, func(pid int) (string, bool) { return "1.1", true }, sink, nil, func() int64 {
		return time.Now().UnixMicro()
	})
	s.SetInterval(10 * time.Millisecond)

	go func() {
		time.Sleep(25 * time.Millisecond)
		ts.Remove(self)
	}()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not exit after tracked set emptied")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.GreaterOrEqual(t, sink.stats, 1)
	require.GreaterOrEqual(t, sink.mem, 1)
}

func TestRunWaitsForFirstTrackedPid(t *testing.T) {
	ts := NewTrackedSet()
	sink := &fakeSink{}
	s := New(ts, func(pid int) (string, bool) { return "", false }, sink, nil, func() int64 { return 0 })
	s.SetInterval(10 * time.Millisecond)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(stop)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("sampler exited before any pid was ever tracked")
	case <-time.After(100 * time.Millisecond):
	}
	close(stop)
	<-done
}
