package evidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/reinetwork/reimint/types"
)

const storeChainID = 1

func loadHeights(t *testing.T, store *Store, from, to uint64, reverse bool) []uint64 {
	t.Helper()

	heights := []uint64{}
	err := store.LoadPendingEvidence(LoadOptions{
		From:    from,
		To:      to,
		Reverse: reverse,
		OnData: func(ev types.Evidence) bool {
			heights = append(heights, ev.Height())
			return false
		},
	})
	require.NoError(t, err)
	return heights
}

func TestStorePendingAndCommitted(t *testing.T) {
	store := NewStore(dbm.NewMemDB())
	ev := types.NewMockDuplicateVoteEvidence(3, storeChainID)

	pending, err := store.IsPending(ev)
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, store.AddPendingEvidence(ev))
	pending, err = store.IsPending(ev)
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, store.AddCommittedEvidence(ev))
	committed, err := store.IsCommitted(ev)
	require.NoError(t, err)
	assert.True(t, committed)

	// committing does not touch the pending entry
	pending, err = store.IsPending(ev)
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, store.RemovePendingEvidence(ev))
	pending, err = store.IsPending(ev)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Empty(t, loadHeights(t, store, 0, math.MaxUint64, false))
}

func TestStoreLoadPendingEvidenceOrder(t *testing.T) {
	store := NewStore(dbm.NewMemDB())
	for _, h := range []uint64{256, 2, 10, 10, math.MaxUint64} {
		require.NoError(t, store.AddPendingEvidence(types.NewMockDuplicateVoteEvidence(h, storeChainID)))
	}
	// committed entries live under another prefix
	require.NoError(t, store.AddCommittedEvidence(types.NewMockDuplicateVoteEvidence(5, storeChainID)))

	testCases := []struct {
		name    string
		from    uint64
		to      uint64
		reverse bool
		want    []uint64
	}{
		{"all", 0, math.MaxUint64, false, []uint64{2, 10, 10, 256, math.MaxUint64}},
		{"all reversed", 0, math.MaxUint64, true, []uint64{math.MaxUint64, 256, 10, 10, 2}},
		{"inclusive bounds", 2, 256, false, []uint64{2, 10, 10, 256}},
		{"inner range", 3, 255, false, []uint64{10, 10}},
		{"inner range reversed", 3, 256, true, []uint64{256, 10, 10}},
		{"single height", 10, 10, false, []uint64{10, 10}},
		{"empty range", 11, 255, false, []uint64{}},
		{"from after to", 256, 2, false, []uint64{}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, loadHeights(t, store, tc.from, tc.to, tc.reverse))
		})
	}
}

func TestStoreLoadPendingEvidenceStops(t *testing.T) {
	store := NewStore(dbm.NewMemDB())
	for h := uint64(1); h <= 5; h++ {
		require.NoError(t, store.AddPendingEvidence(types.NewMockDuplicateVoteEvidence(h, storeChainID)))
	}

	var seen []uint64
	err := store.LoadPendingEvidence(LoadOptions{
		From: 0,
		To:   10,
		OnData: func(ev types.Evidence) bool {
			seen = append(seen, ev.Height())
			return len(seen) == 2
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestStoreLoadPendingEvidenceCorrupted(t *testing.T) {
	db := dbm.NewMemDB()
	store := NewStore(db)

	ev := types.NewMockDuplicateVoteEvidence(4, storeChainID)
	require.NoError(t, db.Set(keyPending(ev), []byte{0xc0}))

	err := store.LoadPendingEvidence(LoadOptions{From: 0, To: 10, OnData: func(types.Evidence) bool { return false }})
	require.Error(t, err)
}
