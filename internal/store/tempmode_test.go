package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockedPath returns a database path whose parent "directory" is a
// regular file, so the store cannot create or open it.
func blockedPath(t *testing.T) (dbPath, blocker string) {
	t.Helper()
	dir := t.TempDir()
	blocker = filepath.Join(dir, "media")
	require.NoError(t, os.WriteFile(blocker, []byte("in the way"), 0o644))
	return filepath.Join(blocker, "store.db"), blocker
}

func TestFallbackPolicyOpensTemporaryStore(t *testing.T) {
	path, _ := blockedPath(t)
	s, err := Open(Options{
		Path:     path,
		Registry: testRegistry(t),
		Version:  1,
		Policy:   FallbackPolicy{},
	})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.InTempMode())

	// The temporary store is fully functional.
	item := newItem(s, "volatile")
	require.NoError(t, s.Insert(item))
	obj, err := s.GetOrLoad("item", item.id)
	require.NoError(t, err)
	assert.Same(t, item, obj)
	n, err := s.Count("item")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFailPolicyPropagatesOpenError(t *testing.T) {
	path, _ := blockedPath(t)
	_, err := Open(Options{Path: path, Registry: testRegistry(t), Version: 1})
	require.Error(t, err)
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, path, oe.Path)
}

func TestTryPromoteWritesTemporaryStoreToDisk(t *testing.T) {
	path, blocker := blockedPath(t)
	s, err := Open(Options{
		Path:     path,
		Registry: testRegistry(t),
		Version:  1,
		Policy:   FallbackPolicy{},
	})
	require.NoError(t, err)
	defer s.Close()

	item := newItem(s, "survives")
	require.NoError(t, s.Insert(item))
	require.NoError(t, s.SetVariable("greeting", "hello"))

	// Still blocked: promotion must fail and leave temp mode on.
	require.Error(t, s.TryPromote())
	assert.True(t, s.InTempMode())

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, s.TryPromote())
	assert.False(t, s.InTempMode())

	// Writes after promotion land in the file.
	later := newItem(s, "on disk")
	require.NoError(t, s.Insert(later))
	require.NoError(t, s.Close())

	s2, err := Open(Options{Path: path, Registry: testRegistry(t), Version: 1})
	require.NoError(t, err)
	defer s2.Close()
	assert.False(t, s2.CreatedNew())
	n, err := s2.Count("item")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	v, ok, err := s2.GetVariable("greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
	// Ids issued before promotion are never reissued.
	assert.Greater(t, s2.MakeNewID(), later.id)
}

func TestRetryTimerPromotesWhenPathClears(t *testing.T) {
	path, blocker := blockedPath(t)
	s, err := Open(Options{
		Path:          path,
		Registry:      testRegistry(t),
		Version:       1,
		Policy:        FallbackPolicy{},
		RetryInterval: 25 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.InTempMode())
	require.NoError(t, s.Insert(newItem(s, "waiting")))

	require.NoError(t, os.Remove(blocker))
	require.Eventually(t, func() bool {
		return !s.InTempMode()
	}, 5*time.Second, 10*time.Millisecond, "store never promoted itself")

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.False(t, s.retryScheduled(), "retry still pending after timer-driven promotion")
}

// retryScheduled reports whether a promotion retry is pending.
func (s *Store) retryScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryTimer != nil
}

func TestPromotionStopsRetryTimer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(Options{
		Path:            path,
		Registry:        testRegistry(t),
		Version:         1,
		StartInTempMode: true,
		RetryInterval:   time.Hour,
	})
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.retryScheduled())

	require.NoError(t, s.TryPromote())
	assert.False(t, s.InTempMode())
	assert.False(t, s.retryScheduled(), "retry still pending after promotion")
}

func TestStartInTempMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(Options{
		Path:            path,
		Registry:        testRegistry(t),
		Version:         1,
		StartInTempMode: true,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.InTempMode())
	// Nothing was written to the path yet.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Insert(newItem(s, "x")))
	require.NoError(t, s.TryPromote())
	assert.False(t, s.InTempMode())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestTryPromoteDuringBulkRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(Options{
		Path:            path,
		Registry:        testRegistry(t),
		Version:         1,
		StartInTempMode: true,
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.StartBulk())
	require.ErrorIs(t, s.TryPromote(), ErrBulkActive)
	require.NoError(t, s.FinishBulk())
	require.NoError(t, s.TryPromote())
}
