package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradecost/internal/domain"
)

func snapshotUpdate(seq uint64, bids, asks []domain.PriceLevel) domain.BookUpdate {
	return domain.BookUpdate{
		Symbol:     "BTC-USDT-SWAP",
		Kind:       domain.BookUpdateSnapshot,
		Sequence:   seq,
		Bids:       bids,
		Asks:       asks,
		ObservedAt: time.Now(),
	}
}

func deltaUpdate(seq uint64, bids, asks []domain.PriceLevel) domain.BookUpdate {
	u := snapshotUpdate(seq, bids, asks)
	u.Kind = domain.BookUpdateDelta
	return u
}

func seedBook(t *testing.T) *Book {
	t.Helper()
	b := New("BTC-USDT-SWAP", 16)
	err := b.Apply(snapshotUpdate(100,
		[]domain.PriceLevel{{Price: 49_990, Size: 10}, {Price: 49_980, Size: 20}},
		[]domain.PriceLevel{{Price: 50_010, Size: 10}, {Price: 50_020, Size: 20}},
	))
	require.NoError(t, err)
	return b
}

func TestSnapshotReplacesBook(t *testing.T) {
	b := seedBook(t)

	snap := b.Snapshot()
	assert.Equal(t, 49_990.0, snap.BestBid)
	assert.Equal(t, 50_010.0, snap.BestAsk)
	assert.Equal(t, 50_000.0, snap.MidPrice)
	assert.Equal(t, 20.0, snap.Spread)
	assert.InDelta(t, 4, snap.SpreadBps, 1e-9)
	assert.Equal(t, uint64(100), snap.Sequence)

	// A later snapshot fully replaces prior levels.
	require.NoError(t, b.Apply(snapshotUpdate(500,
		[]domain.PriceLevel{{Price: 49_000, Size: 1}},
		[]domain.PriceLevel{{Price: 49_100, Size: 1}},
	)))
	snap = b.Snapshot()
	assert.Len(t, snap.Bids, 1)
	assert.Len(t, snap.Asks, 1)
	assert.Equal(t, uint64(500), snap.Sequence)
}

func TestSnapshotSortsUnorderedLevels(t *testing.T) {
	b := New("BTC-USDT-SWAP", 16)
	require.NoError(t, b.Apply(snapshotUpdate(1,
		[]domain.PriceLevel{{Price: 49_980, Size: 20}, {Price: 49_990, Size: 10}},
		[]domain.PriceLevel{{Price: 50_020, Size: 20}, {Price: 50_010, Size: 10}},
	)))
	snap := b.Snapshot()
	assert.Equal(t, 49_990.0, snap.Bids[0].Price)
	assert.Equal(t, 50_010.0, snap.Asks[0].Price)
}

func TestDeltaUpsertsAndRemoves(t *testing.T) {
	b := seedBook(t)

	// New best bid, resize an ask, remove a bid.
	require.NoError(t, b.Apply(deltaUpdate(101,
		[]domain.PriceLevel{{Price: 49_995, Size: 5}, {Price: 49_980, Size: 0}},
		[]domain.PriceLevel{{Price: 50_010, Size: 3}},
	)))

	snap := b.Snapshot()
	assert.Equal(t, 49_995.0, snap.BestBid)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, 49_990.0, snap.Bids[1].Price)
	assert.Equal(t, 3.0, snap.Asks[0].Size)
	assert.Equal(t, uint64(101), snap.Sequence)
}

func TestDeltaBeforeSnapshotRejected(t *testing.T) {
	b := New("BTC-USDT-SWAP", 16)
	err := b.Apply(deltaUpdate(1, []domain.PriceLevel{{Price: 49_990, Size: 1}}, nil))
	assert.ErrorIs(t, err, domain.ErrInvalidBookUpdate)
	assert.ErrorIs(t, err, domain.ErrStaleSequence)
	assert.False(t, b.Synced())
}

func TestDeltaSequenceGapRejected(t *testing.T) {
	b := seedBook(t)

	err := b.Apply(deltaUpdate(103, []domain.PriceLevel{{Price: 49_995, Size: 5}}, nil))
	assert.ErrorIs(t, err, domain.ErrStaleSequence)

	// Replays are rejected too.
	err = b.Apply(deltaUpdate(100, []domain.PriceLevel{{Price: 49_995, Size: 5}}, nil))
	assert.ErrorIs(t, err, domain.ErrStaleSequence)

	// Book state is unchanged.
	snap := b.Snapshot()
	assert.Equal(t, uint64(100), snap.Sequence)
	assert.Equal(t, 49_990.0, snap.BestBid)
}

func TestCrossedSnapshotRejected(t *testing.T) {
	b := seedBook(t)

	err := b.Apply(snapshotUpdate(200,
		[]domain.PriceLevel{{Price: 50_020, Size: 1}},
		[]domain.PriceLevel{{Price: 50_010, Size: 1}},
	))
	assert.ErrorIs(t, err, domain.ErrCrossedBook)

	// Prior state still serves.
	snap := b.Snapshot()
	assert.Equal(t, uint64(100), snap.Sequence)
	assert.Equal(t, 49_990.0, snap.BestBid)
}

func TestCrossedDeltaRejectedWithoutMutation(t *testing.T) {
	b := seedBook(t)

	err := b.Apply(deltaUpdate(101,
		[]domain.PriceLevel{{Price: 50_015, Size: 1}}, nil))
	assert.ErrorIs(t, err, domain.ErrCrossedBook)

	snap := b.Snapshot()
	assert.Equal(t, uint64(100), snap.Sequence)
	assert.Equal(t, 49_990.0, snap.BestBid)

	// The failed delta did not consume the sequence number.
	require.NoError(t, b.Apply(deltaUpdate(101,
		[]domain.PriceLevel{{Price: 49_991, Size: 1}}, nil)))
}

func TestUnknownUpdateKindRejected(t *testing.T) {
	b := seedBook(t)
	err := b.Apply(domain.BookUpdate{Symbol: "BTC-USDT-SWAP", Kind: "weird", Sequence: 101})
	assert.ErrorIs(t, err, domain.ErrInvalidBookUpdate)
}

func TestVolatilityFromMidHistory(t *testing.T) {
	b := New("BTC-USDT-SWAP", 16)
	require.NoError(t, b.Apply(snapshotUpdate(1,
		[]domain.PriceLevel{{Price: 100, Size: 1}},
		[]domain.PriceLevel{{Price: 102, Size: 1}},
	)))

	// Fewer than three mids: volatility still zero.
	assert.Zero(t, b.Snapshot().Volatility)

	// Walk the best bid upward so every delta moves the mid.
	for i, bid := range []float64{100.2, 100.4, 100.6, 100.8} {
		require.NoError(t, b.Apply(deltaUpdate(uint64(2+i),
			[]domain.PriceLevel{{Price: bid, Size: 1}}, nil)))
	}
	assert.Positive(t, b.Snapshot().Volatility)
}

func TestMidWindowEviction(t *testing.T) {
	w := newMidWindow(4)
	for _, m := range []float64{100, 101, 102, 103, 104, 105} {
		w.push(m)
	}
	got := w.ordered()
	assert.Equal(t, []float64{102, 103, 104, 105}, got)
	assert.Positive(t, w.volatility())
}

func TestMidWindowConstantMids(t *testing.T) {
	w := newMidWindow(8)
	for i := 0; i < 8; i++ {
		w.push(100)
	}
	assert.Zero(t, w.volatility())
}
