package storage

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultFile injects write failures into a real file.
type faultFile struct {
	*os.File

	mu        sync.Mutex
	failWrite func(p []byte, off int64) error
}

func (f *faultFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	fn := f.failWrite
	f.mu.Unlock()
	if fn != nil {
		if err := fn(p, off); err != nil {
			return 0, err
		}
	}
	return f.File.WriteAt(p, off)
}

func (f *faultFile) setFault(fn func(p []byte, off int64) error) {
	f.mu.Lock()
	f.failWrite = fn
	f.mu.Unlock()
}

var errInjected = errors.New("injected write failure")

func testOptions() Options {
	return DefaultStoreOptions().WithMinimumNodeSize(3).WithCacheSize(16)
}

// withFaults returns opts whose file can be made to fail.
func withFaults(opts Options) (Options, *faultFile) {
	ff := &faultFile{}
	opts.openFile = func(path string, flag int, perm os.FileMode) (file, error) {
		f, err := os.OpenFile(path, flag, perm)
		if err != nil {
			return nil, err
		}
		ff.File = f
		return ff, nil
	}
	return opts, ff
}

func storePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "objects.db")
}

func openStore(t *testing.T, path string, opts Options) *Store {
	t.Helper()
	s, err := Open(path, opts)
	require.NoError(t, err)
	return s
}

func payloadFor(id uint64, size int) []byte {
	return bytes.Repeat([]byte{byte(id)}, size)
}

func requireValid(t *testing.T, s *Store) *Report {
	t.Helper()
	r, err := s.Validate()
	require.NoError(t, err)
	require.True(t, r.OK(), "problems: %v", r.Problems)
	return r
}

func TestOpenCreatesStore(t *testing.T) {
	path := storePath(t)
	s := openStore(t, path, testOptions())

	assert.Equal(t, uint64(1), s.Stats().Sequence)
	assert.Equal(t, uint64(DataStart), s.UsedBytes())
	assert.Equal(t, 0, s.Len())
	assert.NotZero(t, s.StoreID())
	requireValid(t, s)
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Size(), int64(DataStart))

	s = openStore(t, path, testOptions())
	defer s.Close()
	assert.Equal(t, uint64(1), s.Stats().Sequence)
}

func TestAddGetAcrossReopen(t *testing.T) {
	path := storePath(t)
	s := openStore(t, path, testOptions())
	id := s.StoreID()

	for i := uint64(1); i <= 50; i++ {
		require.NoError(t, s.Add(i, payloadFor(i, int(i)*10), false))
	}
	require.NoError(t, s.Flush(ctx()))
	assert.Equal(t, uint64(2), s.Stats().Sequence)
	assert.Equal(t, 50, s.Len())
	requireValid(t, s)
	require.NoError(t, s.Close())

	s = openStore(t, path, testOptions())
	defer s.Close()
	assert.Equal(t, id, s.StoreID())
	assert.Equal(t, 50, s.Len())
	for i := uint64(1); i <= 50; i++ {
		got, err := s.Get(i)
		require.NoError(t, err)
		assert.Equal(t, payloadFor(i, int(i)*10), got)
	}

	ids, err := s.Identifiers()
	require.NoError(t, err)
	assert.Len(t, ids, 50)
	assert.IsIncreasing(t, ids)
}

func TestStagedVisibility(t *testing.T) {
	s := openStore(t, storePath(t), testOptions())
	defer s.Close()

	require.NoError(t, s.Add(1, []byte("one"), false))
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Replace(1, []byte("uno"), false))
	got, err = s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("uno"), got)

	require.NoError(t, s.Remove(1, false))
	_, err = s.Get(1)
	assert.True(t, errors.Is(err, ErrObjectNotFound))

	ok, err := s.Contains(1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Flush(ctx()))
	assert.Equal(t, 0, s.Len())
	requireValid(t, s)
}

func TestObjectExistence(t *testing.T) {
	s := openStore(t, storePath(t), testOptions())
	defer s.Close()

	require.NoError(t, s.Add(7, []byte("seven"), true))

	err := s.Add(7, []byte("again"), false)
	assert.True(t, errors.Is(err, ErrObjectExists))

	err = s.Replace(8, []byte("eight"), false)
	assert.True(t, errors.Is(err, ErrObjectNotFound))

	err = s.Remove(8, false)
	assert.True(t, errors.Is(err, ErrObjectNotFound))

	require.NoError(t, s.Remove(7, false))
	require.NoError(t, s.Add(7, []byte("back"), false))
}

func TestDurableWriteCommits(t *testing.T) {
	path := storePath(t)
	s := openStore(t, path, testOptions())

	require.NoError(t, s.Add(1, []byte("durable"), true))
	assert.Equal(t, uint64(2), s.Stats().Sequence)
	assert.Equal(t, FlushIdle, s.FlushState())
	require.NoError(t, s.Close())

	s = openStore(t, path, testOptions())
	defer s.Close()
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
}

func TestReplaceReusesSpace(t *testing.T) {
	s := openStore(t, storePath(t), testOptions())
	defer s.Close()

	for i := uint64(0); i < 20; i++ {
		require.NoError(t, s.Add(i, payloadFor(i, 1000), false))
	}
	require.NoError(t, s.Flush(ctx()))
	requireValid(t, s)

	generation := s.UsedBytes() - DataStart
	for round := 0; round < 10; round++ {
		for i := uint64(0); i < 20; i++ {
			require.NoError(t, s.Replace(i, payloadFor(i+uint64(round), 1000), false))
		}
		require.NoError(t, s.Flush(ctx()))
		requireValid(t, s)
	}

	// Space freed by earlier generations is reused, so the file holds a
	// small multiple of one generation rather than all ten.
	assert.LessOrEqual(t, s.UsedBytes()-DataStart, 4*generation)
	for i := uint64(0); i < 20; i++ {
		got, err := s.Get(i)
		require.NoError(t, err)
		assert.Equal(t, payloadFor(i+9, 1000), got)
	}
}

func TestValidateTiling(t *testing.T) {
	path := storePath(t)
	opts := DefaultStoreOptions().WithMinimumNodeSize(2).WithRetention(1).WithCacheSize(4)
	s := openStore(t, path, opts)

	rng := rand.New(rand.NewSource(3))
	live := map[uint64][]byte{}
	for round := 0; round < 8; round++ {
		for range 60 {
			id := uint64(rng.Intn(300))
			payload := payloadFor(id, rng.Intn(400))
			_, exists := live[id]
			switch {
			case exists && rng.Intn(3) == 0:
				require.NoError(t, s.Remove(id, false))
				delete(live, id)
			case exists:
				require.NoError(t, s.Replace(id, payload, false))
				live[id] = payload
			default:
				require.NoError(t, s.Add(id, payload, false))
				live[id] = payload
			}
		}
		require.NoError(t, s.Flush(ctx()))

		r := requireValid(t, s)
		assert.Equal(t, len(live), r.Objects)
		assert.Equal(t, s.Stats().Sequence, r.Sequence)
	}

	r := requireValid(t, s)
	assert.Greater(t, r.Pages, 1)
	assert.Greater(t, r.Height, 1)
	require.NoError(t, s.Close())

	s = openStore(t, path, opts)
	defer s.Close()
	requireValid(t, s)
	for id, want := range live {
		got, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "object %d", id)
	}
}

func TestAbandonedFlushKeepsWork(t *testing.T) {
	path := storePath(t)
	opts, ff := withFaults(testOptions())
	s := openStore(t, path, opts)

	require.NoError(t, s.Add(1, []byte("committed"), true))
	committed := s.Stats().Sequence

	require.NoError(t, s.Add(2, []byte("pending"), false))
	require.NoError(t, s.Replace(1, []byte("replaced"), false))

	ff.setFault(func(p []byte, off int64) error {
		if off >= DataStart {
			return errInjected
		}
		return nil
	})
	err := s.Flush(ctx())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientIO))
	assert.False(t, errors.Is(err, ErrStoreFailed))
	assert.Equal(t, committed, s.Stats().Sequence)
	assert.Equal(t, uint64(1), s.Stats().AbandonedFlushes)

	got, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("pending"), got)
	got, err = s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)
	requireValid(t, s)

	ff.setFault(nil)
	require.NoError(t, s.Flush(ctx()))
	assert.Equal(t, committed+1, s.Stats().Sequence)
	requireValid(t, s)
	require.NoError(t, s.Close())

	s = openStore(t, path, testOptions())
	defer s.Close()
	got, err = s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)
	got, err = s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("pending"), got)
}

func TestPermanentErrorFailsStore(t *testing.T) {
	opts, ff := withFaults(testOptions())
	shutdown := make(chan error, 1)
	opts = opts.WithOnShutdown(func(err error) { shutdown <- err })
	s := openStore(t, storePath(t), opts)
	defer s.Close()

	require.NoError(t, s.Add(1, []byte("x"), false))
	ff.setFault(func(p []byte, off int64) error {
		if off >= DataStart {
			return syscall.EIO
		}
		return nil
	})

	err := s.Flush(ctx())
	assert.True(t, errors.Is(err, ErrStoreFailed))
	assert.True(t, errors.Is(err, ErrPermanentIO))

	select {
	case err := <-shutdown:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not called")
	}

	_, err = s.Get(1)
	assert.True(t, errors.Is(err, ErrStoreFailed))
	assert.True(t, errors.Is(s.Add(2, nil, false), ErrStoreFailed))
}

func TestTornHeaderWriteKeepsPreviousGeneration(t *testing.T) {
	path := storePath(t)
	opts, ff := withFaults(testOptions())
	s := openStore(t, path, opts)

	require.NoError(t, s.Add(1, []byte("old"), true))
	committed := s.Stats().Sequence

	require.NoError(t, s.Replace(1, []byte("new"), false))
	require.NoError(t, s.Add(2, []byte("two"), false))

	// Tear the write of slot 0: half of it reaches the disk.
	ff.setFault(func(p []byte, off int64) error {
		if off == 0 {
			_, _ = ff.File.WriteAt(p[:len(p)/2], 0)
			_, _ = ff.File.WriteAt(bytes.Repeat([]byte{0xee}, 64), 20)
			return errInjected
		}
		return nil
	})
	err := s.Flush(ctx())
	assert.True(t, errors.Is(err, ErrStoreFailed))
	s.Close()

	s = openStore(t, path, testOptions())
	defer s.Close()
	assert.Equal(t, committed, s.Stats().Sequence)
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
	ok, err := s.Contains(2)
	require.NoError(t, err)
	assert.False(t, ok)
	requireValid(t, s)

	assertSlotsAgree(t, path, committed)
}

func TestSecondSlotFailureKeepsNewGeneration(t *testing.T) {
	path := storePath(t)
	opts, ff := withFaults(testOptions())
	s := openStore(t, path, opts)

	require.NoError(t, s.Add(1, []byte("old"), true))
	committed := s.Stats().Sequence
	require.NoError(t, s.Replace(1, []byte("new"), false))

	ff.setFault(func(p []byte, off int64) error {
		if off == PageSize {
			return errInjected
		}
		return nil
	})
	err := s.Flush(ctx())
	assert.True(t, errors.Is(err, ErrStoreFailed))
	s.Close()

	s = openStore(t, path, testOptions())
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, committed+1, s.Stats().Sequence)
	requireValid(t, s)
	require.NoError(t, s.Close())

	assertSlotsAgree(t, path, committed+1)
}

// objectsOf returns every object of s keyed by identifier.
func objectsOf(t *testing.T, s *Store) map[uint64]string {
	t.Helper()
	ids, err := s.Identifiers()
	require.NoError(t, err)
	out := make(map[uint64]string, len(ids))
	for _, id := range ids {
		got, err := s.Get(id)
		require.NoError(t, err)
		out[id] = string(got)
	}
	return out
}

// TestFlushFailureAtEveryWrite stops all writes from the nth write of a
// flush onwards, for every n until the flush gets through, and checks that
// the reopened store holds either the old or the new generation.
func TestFlushFailureAtEveryWrite(t *testing.T) {
	for n := 0; ; n++ {
		require.Less(t, n, 500, "flush never completed")

		path := storePath(t)
		opts, ff := withFaults(testOptions().WithWriteConcurrency(1))
		s := openStore(t, path, opts)

		for id := uint64(1); id <= 20; id++ {
			require.NoError(t, s.Add(id, payloadFor(id, 40+int(id)), false))
		}
		require.NoError(t, s.Flush(ctx()))
		before := objectsOf(t, s)

		after := make(map[uint64]string, len(before))
		for id, v := range before {
			after[id] = v
		}
		for id := uint64(1); id <= 10; id++ {
			require.NoError(t, s.Replace(id, payloadFor(id+100, 70), false))
			after[id] = string(payloadFor(id+100, 70))
		}
		for id := uint64(11); id <= 15; id++ {
			require.NoError(t, s.Remove(id, false))
			delete(after, id)
		}
		for id := uint64(21); id <= 30; id++ {
			require.NoError(t, s.Add(id, payloadFor(id, 25), false))
			after[id] = string(payloadFor(id, 25))
		}

		var writes atomic.Int64
		ff.setFault(func(p []byte, off int64) error {
			if writes.Add(1) > int64(n) {
				return errInjected
			}
			return nil
		})
		completed := s.Flush(ctx()) == nil
		_ = s.Close()

		s = openStore(t, path, testOptions())
		got := objectsOf(t, s)
		if completed || assert.ObjectsAreEqual(after, got) {
			assert.Equal(t, after, got, "writes allowed: %d", n)
		} else {
			assert.Equal(t, before, got, "writes allowed: %d", n)
		}
		requireValid(t, s)
		require.NoError(t, s.Close())

		if completed {
			return
		}
	}
}

func assertSlotsAgree(t *testing.T, path string, sequence uint64) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for slot := range HeaderSlots {
		h := &FileHeader{}
		off := slotOffset(slot)
		require.NoError(t, h.DeserializeAndValidate(raw[off:off+PageSize]), "slot %d", slot)
		assert.Equal(t, sequence, h.Sequence, "slot %d", slot)
	}
}

func TestOpenRejectsForeignFiles(t *testing.T) {
	path := storePath(t)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 3*PageSize), 0644))
	_, err := Open(path, testOptions())
	assert.True(t, errors.Is(err, ErrBadSignature))

	path = storePath(t)
	s := openStore(t, path, testOptions())
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	for slot := range HeaderSlots {
		_, err := f.WriteAt([]byte{0xff, 0xff}, slotOffset(slot)+100)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	_, err = Open(path, testOptions())
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestOpenRejectsInvalidNodeSize(t *testing.T) {
	_, err := Open(storePath(t), DefaultStoreOptions().WithMinimumNodeSize(1))
	assert.True(t, errors.Is(err, ErrInvalidNodeSize))
}

func TestNodeSizeIsFixedAtCreation(t *testing.T) {
	path := storePath(t)
	s := openStore(t, path, DefaultStoreOptions().WithMinimumNodeSize(2))
	require.NoError(t, s.Add(1, []byte("a"), true))
	require.NoError(t, s.Close())

	s = openStore(t, path, DefaultStoreOptions().WithMinimumNodeSize(32))
	defer s.Close()
	assert.Equal(t, 2, s.opts.MinimumNodeSize)
	requireValid(t, s)
}

func TestStoreFull(t *testing.T) {
	opts := testOptions().WithFileSizeBounds(0, DataStart+GrowthChunk)
	s := openStore(t, storePath(t), opts)
	defer s.Close()

	err := s.Add(1, make([]byte, 2*GrowthChunk), false)
	assert.True(t, errors.Is(err, ErrStoreFull))

	require.NoError(t, s.Add(2, make([]byte, 1000), true))

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Rejections)
	assert.LessOrEqual(t, stats.UsedBytes, uint64(DataStart+GrowthChunk))
	assert.LessOrEqual(t, stats.AllocatedBytes, uint64(DataStart+GrowthChunk))
}

func TestReservationCoversFlush(t *testing.T) {
	opts := testOptions().
		WithFileSizeBounds(0, DataStart+16<<10).
		WithCheckpointThreshold(1 << 40)
	s := openStore(t, storePath(t), opts)
	defer s.Close()
	used := s.UsedBytes()

	// Stage until admission refuses: everything admitted must fit.
	added := 0
	for id := uint64(1); ; id++ {
		err := s.Add(id, payloadFor(id, 100), false)
		if errors.Is(err, ErrStoreFull) {
			break
		}
		require.NoError(t, err)
		added++
	}
	require.NotZero(t, added)

	reserved := s.Stats().Reserved
	s.dirMu.Lock()
	dirShare := s.directoryReservation(added)
	required := int64(s.dir.SpaceRequired(added))
	s.dirMu.Unlock()
	assert.GreaterOrEqual(t, dirShare, required)
	assert.GreaterOrEqual(t, reserved, dirShare+int64(added)*int64(framedSize(100)))

	require.NoError(t, s.Flush(ctx()))
	assert.Equal(t, added, s.Len())
	assert.LessOrEqual(t, s.UsedBytes()-used, uint64(reserved))
	assert.Zero(t, s.Stats().Reserved)
	requireValid(t, s)
}

func TestSetFileSizeBounds(t *testing.T) {
	path := storePath(t)
	s := openStore(t, path, testOptions())

	require.NoError(t, s.Add(1, make([]byte, 5000), true))

	err := s.SetFileSizeBounds(0, DataStart)
	assert.True(t, errors.Is(err, ErrFileTooSmall))

	require.NoError(t, s.SetFileSizeBounds(256<<10, 1<<20))
	assert.GreaterOrEqual(t, s.AllocatedBytes(), uint64(256<<10))

	seq := s.Stats().Sequence
	require.NoError(t, s.Flush(ctx()))
	assert.Equal(t, seq+1, s.Stats().Sequence)
	require.NoError(t, s.Close())

	s = openStore(t, path, testOptions())
	defer s.Close()
	assert.Equal(t, uint64(1<<20), s.alloc.Max())
	requireValid(t, s)
}

func TestRecoveryMode(t *testing.T) {
	_, err := Open(storePath(t), testOptions().WithRecovery(true))
	assert.True(t, errors.Is(err, ErrStoreMissing))

	path := storePath(t)
	s := openStore(t, path, testOptions().WithFileSizeBounds(0, DataStart+GrowthChunk))
	require.NoError(t, s.Close())

	s = openStore(t, path, testOptions().WithRecovery(true))
	defer s.Close()

	require.NoError(t, s.Reserve(1<<30, true))
	require.NoError(t, s.Reserve(-(1 << 30), false))

	s.EndRecovery()
	err = s.Reserve(1<<30, false)
	assert.True(t, errors.Is(err, ErrStoreFull))
}

func TestPacedWritesTriggerFlushes(t *testing.T) {
	s := openStore(t, storePath(t), testOptions().WithCheckpointThreshold(4096))
	defer s.Close()

	for i := uint64(0); i < 40; i++ {
		require.NoError(t, s.Add(i, payloadFor(i, 1024), false))
	}

	require.Eventually(t, func() bool {
		return s.Stats().Flushes > 0
	}, 5*time.Second, 10*time.Millisecond)

	for i := uint64(0); i < 40; i++ {
		got, err := s.Get(i)
		require.NoError(t, err)
		assert.Equal(t, payloadFor(i, 1024), got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	path := storePath(t)
	s := openStore(t, path, testOptions().WithFlushInterval(2*time.Millisecond).WithWriteConcurrency(3))

	const writers = 4
	const perWriter = 50
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				id := uint64(w*perWriter + i)
				if err := s.Add(id, payloadFor(id, 100+i), false); err != nil {
					t.Error(err)
					return
				}
				got, err := s.Get(id)
				if err != nil {
					t.Error(err)
					return
				}
				if !bytes.Equal(got, payloadFor(id, 100+i)) {
					t.Errorf("object %d: payload mismatch", id)
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, s.Flush(ctx()))
	assert.Equal(t, writers*perWriter, s.Len())
	requireValid(t, s)
	require.NoError(t, s.Close())

	s = openStore(t, path, testOptions())
	defer s.Close()
	assert.Equal(t, writers*perWriter, s.Len())
}

func TestCloseTwice(t *testing.T) {
	s := openStore(t, storePath(t), testOptions())
	require.NoError(t, s.Add(1, []byte("flushed on close"), false))
	require.NoError(t, s.Close())

	assert.True(t, errors.Is(s.Close(), ErrClosed))
	assert.True(t, errors.Is(s.Add(2, nil, false), ErrClosed))
}

func TestCloseFlushes(t *testing.T) {
	path := storePath(t)
	s := openStore(t, path, testOptions())
	require.NoError(t, s.Add(1, []byte("flushed on close"), false))
	require.NoError(t, s.Close())

	s = openStore(t, path, testOptions())
	defer s.Close()
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("flushed on close"), got)
}

func TestStatsString(t *testing.T) {
	s := openStore(t, storePath(t), testOptions())
	defer s.Close()

	require.NoError(t, s.Add(1, make([]byte, 3000), true))
	require.NoError(t, s.Add(2, make([]byte, 10), true))
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Flushes)
	assert.GreaterOrEqual(t, stats.TotalFlush, stats.LastFlush)
	assert.Positive(t, stats.TotalFlush)

	out := stats.String()
	assert.Contains(t, out, "in total")
	assert.Contains(t, out, "objects:")
	assert.Contains(t, out, fmt.Sprintf("%d (idle)", s.Stats().Sequence))
	assert.Contains(t, out, "KiB")
}

func TestFlushStateString(t *testing.T) {
	assert.Equal(t, "idle", FlushIdle.String())
	assert.Equal(t, "committing", FlushCommitting.String())
	assert.Equal(t, "unknown", FlushState(42).String())
}

func ctx() context.Context {
	return context.Background()
}
