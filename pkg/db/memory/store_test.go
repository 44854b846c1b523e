package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCircle(t *testing.T, s *Store, chainID uint32) {
	t.Helper()
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx db.Tx) error {
		return tx.SaveCircle(ctx, &rosca.Circle{ID: rosca.CircleKey(chainID), ChainID: chainID})
	}))
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCircle(t, s, 1)

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		c, err := tx.GetCircle(ctx, "1")
		require.NoError(t, err)
		c.TotalSecurityDeposits = 500
		require.NoError(t, tx.SaveCircle(ctx, c))
		require.NoError(t, tx.SaveSecurityDeposit(ctx, &rosca.SecurityDeposit{ID: rosca.SecurityDepositID("1", "alice"), CircleID: "1", DepositorID: "alice", Amount: 500}))

		// writes are visible inside the transaction
		got, err := tx.GetCircle(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, int64(500), got.TotalSecurityDeposits)
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, err := s.GetCircle(ctx, "1")
	require.NoError(t, err)
	assert.Zero(t, c.TotalSecurityDeposits)

	deposits, err := s.ListSecurityDeposits(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, deposits)
}

func TestReadsDoNotAliasState(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCircle(t, s, 1)

	c, err := s.GetCircle(ctx, "1")
	require.NoError(t, err)
	c.Completed = true

	again, err := s.GetCircle(ctx, "1")
	require.NoError(t, err)
	assert.False(t, again.Completed)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetCircle(ctx, "9")
	require.True(t, db.IsNotFound(err))

	err = s.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		_, err := tx.GetRound(ctx, "9", 1)
		assert.True(t, db.IsNotFound(err))
		return tx.DeleteSecurityDeposit(ctx, "9", "alice")
	})
	require.True(t, db.IsNotFound(err))
}

func TestListCirclesPaging(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []uint32{3, 1, 2, 5} {
		seedCircle(t, s, id)
	}

	asc, err := s.ListCircles(ctx, 0, 2, false)
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, uint32(1), asc[0].ChainID)
	assert.Equal(t, uint32(2), asc[1].ChainID)

	next, err := s.ListCircles(ctx, 2, 10, false)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, uint32(3), next[0].ChainID)

	desc, err := s.ListCircles(ctx, 5, 10, true)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, uint32(3), desc[0].ChainID)
}

func TestListRoundsOrderedAndByAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedCircle(t, s, 1)
	seedCircle(t, s, 2)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		rounds := []*rosca.Round{
			{ID: rosca.RoundID("1", 2), CircleID: "1", RoundNumber: 2, Recipient: "bob"},
			{ID: rosca.RoundID("1", 1), CircleID: "1", RoundNumber: 1, Recipient: "alice"},
		}
		if err := tx.SaveRounds(ctx, rounds); err != nil {
			return err
		}
		return tx.SaveEligibility(ctx, &rosca.Eligibility{ID: rosca.EligibilityID("2", "alice"), CircleID: "2", AccountID: "alice"})
	}))

	rounds, err := s.ListRounds(ctx, "1")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, uint32(1), rounds[0].RoundNumber)
	assert.Equal(t, uint32(2), rounds[1].RoundNumber)

	circles, err := s.ListCirclesByAccount(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, circles, 1)
	assert.Equal(t, "2", circles[0].ID)
}

func TestProcessedLedger(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		ok, err := tx.IsProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.False(t, ok)
		return tx.MarkProcessed(ctx, &rosca.ProcessedEvent{EventID: "evt-1", CircleID: "1", Kind: "RoscaComplete"})
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		ok, err := tx.IsProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func TestProcessedMarkDroppedOnRollback(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		require.NoError(t, tx.MarkProcessed(ctx, &rosca.ProcessedEvent{EventID: "evt-1", CircleID: "1"}))
		ok, err := tx.IsProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, ok, "a mark is visible inside its own transaction")
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Empty(t, s.processed)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		ok, err := tx.IsProcessed(ctx, "evt-1")
		require.NoError(t, err)
		assert.False(t, ok)
		return tx.MarkProcessed(ctx, &rosca.ProcessedEvent{EventID: "evt-2", CircleID: "1"})
	}))
	assert.Len(t, s.processed, 1)
	assert.Contains(t, s.processed, "evt-2")
}
