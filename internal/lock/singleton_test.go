package lock

import (
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSingleton(t *testing.T, dir string, pid int, checker ProcessChecker) *Singleton {
	t.Helper()
	s, err := NewSingleton(dir, "prospector", WithSingletonPID(pid), WithSingletonChecker(checker))
	require.NoError(t, err)
	return s
}

func TestSingleton_CreateAndInfo(t *testing.T) {
	s := newSingleton(t, t.TempDir(), 100, pidSet(100))

	running, err := s.IsAnotherInstanceRunning()
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, s.CreateLock(8080))

	info, err := s.RunningInstanceInfo()
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 100, info.PID)
	assert.Equal(t, 8080, info.Port)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.False(t, info.StartTime.IsZero())

	// The owner does not count as another instance.
	running, err = s.IsAnotherInstanceRunning()
	require.NoError(t, err)
	assert.False(t, running)
}

func TestSingleton_LiveOtherInstanceRefused(t *testing.T) {
	dir := t.TempDir()
	checker := pidSet(100, 200)
	first := newSingleton(t, dir, 100, checker)
	second := newSingleton(t, dir, 200, checker)

	require.NoError(t, first.CreateLock(8080))

	running, err := second.IsAnotherInstanceRunning()
	require.NoError(t, err)
	assert.True(t, running)

	err = second.CreateLock(8081)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	info, err := second.RunningInstanceInfo()
	require.NoError(t, err)
	assert.Equal(t, 8080, info.Port)
}

func TestSingleton_DeadInstanceRemoved(t *testing.T) {
	dir := t.TempDir()
	checker := pidSet(200)
	crashed := newSingleton(t, dir, 100, checker)
	next := newSingleton(t, dir, 200, checker)

	require.NoError(t, crashed.CreateLock(8080))

	running, err := next.IsAnotherInstanceRunning()
	require.NoError(t, err)
	assert.False(t, running)
	_, err = os.Stat(next.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, next.CreateLock(8081))
	info, err := next.RunningInstanceInfo()
	require.NoError(t, err)
	assert.Equal(t, 200, info.PID)
}

func TestSingleton_CorruptFileRemoved(t *testing.T) {
	s := newSingleton(t, t.TempDir(), 100, pidSet(100))
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(s.Path(), old, old))

	info, err := s.RunningInstanceInfo()
	require.NoError(t, err)
	assert.Nil(t, info)

	running, err := s.IsAnotherInstanceRunning()
	require.NoError(t, err)
	assert.False(t, running)
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestSingleton_FreshCorruptFileCountsAsRunning(t *testing.T) {
	s := newSingleton(t, t.TempDir(), 100, pidSet(100))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{\"pid\":"), 0o644))

	running, err := s.IsAnotherInstanceRunning()
	require.NoError(t, err)
	assert.True(t, running, "a pid file still being written belongs to a starting instance")
	assert.ErrorIs(t, s.CreateLock(8080), ErrAlreadyRunning)
}

func TestSingleton_ConcurrentCreateSingleWinner(t *testing.T) {
	dir := t.TempDir()
	alive := CheckerFunc(func(int) bool { return true })

	const n = 16
	servers := make([]*Singleton, n)
	for i := range servers {
		servers[i] = newSingleton(t, dir, 1000+i, alive)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, s := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.CreateLock(8000 + i)
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "only one server may create the pid file")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	}
	require.NotEqual(t, -1, winner)

	// Losers shutting down leave the winner's record alone.
	for i, s := range servers {
		if i != winner {
			require.NoError(t, s.RemoveLock())
		}
	}
	info, err := servers[winner].RunningInstanceInfo()
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1000+winner, info.PID)
}

func TestSingleton_RemoveLockOnlyByOwner(t *testing.T) {
	dir := t.TempDir()
	checker := pidSet(100, 200)
	owner := newSingleton(t, dir, 100, checker)
	other := newSingleton(t, dir, 200, checker)

	require.NoError(t, owner.CreateLock(8080))

	require.NoError(t, other.RemoveLock())
	_, err := os.Stat(owner.Path())
	require.NoError(t, err, "non-owner leaves the pid file")

	require.NoError(t, owner.RemoveLock())
	_, err = os.Stat(owner.Path())
	assert.True(t, os.IsNotExist(err))

	// Removing twice is harmless.
	assert.NoError(t, owner.RemoveLock())
}

func TestSingleton_RealProcessIsAlive(t *testing.T) {
	assert.True(t, OSChecker{}.Alive(os.Getpid()))
	assert.False(t, OSChecker{}.Alive(0))
	assert.False(t, OSChecker{}.Alive(-5))
}
