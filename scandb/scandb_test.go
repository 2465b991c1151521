package scandb

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	require := require.New(t)
	store, err := New(&Config{
		Path:         filepath.Join(t.TempDir(), "scanstate"),
		CacheSize:    1024 * 1024,
		MaxOpenFiles: 16,
	}, logging.NoLog{})
	require.NoError(err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestCheckpointRoundTrip(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	contract := codec.CreateAddress(0, ids.GenerateTestID())

	_, err := store.Checkpoint(contract)
	require.ErrorIs(err, ErrNoCheckpoint)

	require.NoError(store.SetCheckpoint(contract, 1234))
	block, err := store.Checkpoint(contract)
	require.NoError(err)
	require.Equal(uint64(1234), block)

	// Overwrite advances in place.
	require.NoError(store.SetCheckpoint(contract, 5678))
	block, err = store.Checkpoint(contract)
	require.NoError(err)
	require.Equal(uint64(5678), block)
}

func TestCheckpointPerContract(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)

	a := codec.CreateAddress(0, ids.GenerateTestID())
	b := codec.CreateAddress(1, ids.GenerateTestID())

	require.NoError(store.SetCheckpoint(a, 10))
	require.NoError(store.SetCheckpoint(b, 20))

	block, err := store.Checkpoint(a)
	require.NoError(err)
	require.Equal(uint64(10), block)
	block, err = store.Checkpoint(b)
	require.NoError(err)
	require.Equal(uint64(20), block)
}

func TestCheckpointSurvivesReopen(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "scanstate")
	contract := codec.CreateAddress(0, ids.GenerateTestID())

	store, err := New(&Config{Path: path, CacheSize: 1024 * 1024, MaxOpenFiles: 16}, logging.NoLog{})
	require.NoError(err)
	require.NoError(store.SetCheckpoint(contract, 42))
	require.NoError(store.MarkSeen([]SeenEntry{{Block: 42, LogIndex: 0, Name: "TaskFunded"}}))
	require.NoError(store.Close())

	store, err = New(&Config{Path: path, CacheSize: 1024 * 1024, MaxOpenFiles: 16}, logging.NoLog{})
	require.NoError(err)
	defer store.Close()

	block, err := store.Checkpoint(contract)
	require.NoError(err)
	require.Equal(uint64(42), block)

	seen, err := store.Seen(42, 0, "TaskFunded")
	require.NoError(err)
	require.True(seen)
}

func TestSeenIndex(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)

	seen, err := store.Seen(7, 2, "TaskCreated")
	require.NoError(err)
	require.False(seen)

	require.NoError(store.MarkSeen([]SeenEntry{
		{Block: 7, LogIndex: 2, Name: "TaskCreated"},
		{Block: 7, LogIndex: 3, Name: "TaskFunded"},
	}))

	seen, err = store.Seen(7, 2, "TaskCreated")
	require.NoError(err)
	require.True(seen)

	// Same coordinates, different name: distinct identity.
	seen, err = store.Seen(7, 2, "TaskFunded")
	require.NoError(err)
	require.False(seen)
}

func TestPruneSeenBelow(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)

	require.NoError(store.MarkSeen([]SeenEntry{
		{Block: 5, LogIndex: 0, Name: "TaskCreated"},
		{Block: 99, LogIndex: 0, Name: "TaskFunded"},
		{Block: 100, LogIndex: 0, Name: "TaskAccepted"},
		{Block: 150, LogIndex: 1, Name: "TaskReleased"},
	}))

	require.NoError(store.PruneSeenBelow(100))

	for _, tc := range []struct {
		block uint64
		index uint32
		name  string
		want  bool
	}{
		{5, 0, "TaskCreated", false},
		{99, 0, "TaskFunded", false},
		{100, 0, "TaskAccepted", true},
		{150, 1, "TaskReleased", true},
	} {
		seen, err := store.Seen(tc.block, tc.index, tc.name)
		require.NoError(err)
		require.Equal(tc.want, seen, "block %d", tc.block)
	}
}

func TestOversizeNameRejected(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)

	name := strings.Repeat("x", maxNameSize+1)
	_, err := store.Seen(0, 0, name)
	require.ErrorIs(err, ErrNameTooLarge)
	require.ErrorIs(store.MarkSeen([]SeenEntry{{Name: name}}), ErrNameTooLarge)
}

func TestCloseRacesInFlightReads(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	contract := codec.CreateAddress(0, ids.GenerateTestID())
	require.NoError(store.SetCheckpoint(contract, 1))

	// Readers racing Close must only ever see a clean result or ErrClosed.
	errCh := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			for j := uint64(0); j < 50; j++ {
				if _, err := store.Checkpoint(contract); err != nil {
					errCh <- err
					return
				}
				if err := store.MarkSeen([]SeenEntry{{Block: n, LogIndex: uint32(j), Name: "TaskFunded"}}); err != nil {
					errCh <- err
					return
				}
			}
		}(uint64(i))
	}

	require.NoError(store.Close())
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.ErrorIs(err, ErrClosed)
	}

	_, err := store.Checkpoint(contract)
	require.ErrorIs(err, ErrClosed)
}

func TestClosedStore(t *testing.T) {
	require := require.New(t)
	store := newTestStore(t)
	require.NoError(store.Close())

	_, err := store.Checkpoint(codec.EmptyAddress)
	require.ErrorIs(err, ErrClosed)
	require.ErrorIs(store.SetCheckpoint(codec.EmptyAddress, 1), ErrClosed)
	_, err = store.Seen(1, 0, "TaskCreated")
	require.ErrorIs(err, ErrClosed)
	require.ErrorIs(store.MarkSeen(nil), ErrClosed)
	require.ErrorIs(store.PruneSeenBelow(1), ErrClosed)
}
