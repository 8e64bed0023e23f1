package domain

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFromPositions(t *testing.T) {
	t.Parallel()

	t.Run("largest first with id tie break", func(t *testing.T) {
		plan, err := PlanFromPositions(map[string]int64{
			"alice": 500,
			"bob":   500,
			"carl":  -700,
			"dora":  -300,
		})
		require.NoError(t, err)
		assert.Equal(t, []Payment{
			{From: "carl", To: "alice", Amount: 500},
			{From: "dora", To: "bob", Amount: 300},
			{From: "carl", To: "bob", Amount: 200},
		}, plan)
	})

	t.Run("empty when settled", func(t *testing.T) {
		plan, err := PlanFromPositions(map[string]int64{"a": 0, "b": 0})
		require.NoError(t, err)
		assert.Empty(t, plan)
	})

	t.Run("unbalanced input", func(t *testing.T) {
		_, err := PlanFromPositions(map[string]int64{"a": 100, "b": -99})
		require.ErrorIs(t, err, ErrUnbalancedLedger)
	})
}

func TestPlanSettlements_ZeroesEveryPosition(t *testing.T) {
	t.Parallel()

	for seed := uint64(1); seed <= 25; seed++ {
		entries := randomLedger(rand.New(rand.NewPCG(seed, 17)), 250)
		acc, err := ComputeBalances(context.Background(), seqOf(entries...))
		require.NoError(t, err)

		g := acc.Graph()
		net := g.NetPositions()

		plan, err := PlanSettlements(g)
		require.NoError(t, err)

		nonZero := 0
		for _, v := range net {
			if v != 0 {
				nonZero++
			}
		}
		if nonZero > 0 {
			assert.LessOrEqual(t, len(plan), nonZero-1, "seed %d", seed)
		}

		for _, p := range plan {
			require.Positive(t, p.Amount)
			require.NotEqual(t, p.From, p.To)
			net[p.From] += p.Amount
			net[p.To] -= p.Amount
		}
		for user, v := range net {
			assert.Zero(t, v, "seed %d: %s not settled", seed, user)
		}
	}
}

func TestPaymentsInvolving(t *testing.T) {
	t.Parallel()

	plan := []Payment{
		{From: "a", To: "b", Amount: 1},
		{From: "c", To: "d", Amount: 2},
		{From: "d", To: "a", Amount: 3},
	}
	assert.Equal(t, []Payment{plan[0], plan[2]}, PaymentsInvolving(plan, "a"))
	assert.Empty(t, PaymentsInvolving(plan, "z"))
}
