package domain

import (
	"context"
	"fmt"
	"iter"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

const parallelBatchSize = 512

type shardDelta struct {
	key    PairKey
	amount int64
}

// ComputeBalancesParallel replays entries like ComputeBalances but sums the
// pairwise deltas across shards. Pairs are routed to shards by hash, so each
// shard owns a disjoint set of keys and the merge is a plain union. Entry
// order and structure are still checked on the single reading goroutine.
func ComputeBalancesParallel(ctx context.Context, entries iter.Seq2[*LedgerEntry, error], shards int) (*Accumulator, error) {
	if shards <= 1 {
		return ComputeBalances(ctx, entries)
	}

	g, gctx := errgroup.WithContext(ctx)

	inputs := make([]chan []shardDelta, shards)
	results := make([]map[PairKey]int64, shards)
	for i := range inputs {
		inputs[i] = make(chan []shardDelta, 4)
		results[i] = make(map[PairKey]int64)
	}

	for i := range shards {
		g.Go(func() error {
			sums := results[i]
			for batch := range inputs[i] {
				for _, d := range batch {
					sum, ok := addChecked(sums[d.key], d.amount)
					if !ok {
						return fmt.Errorf("%w: balance overflow for %s/%s", ErrUnbalancedLedger, d.key.A, d.key.B)
					}
					sums[d.key] = sum
				}
			}
			return nil
		})
	}

	var lastSequence int64
	g.Go(func() error {
		defer func() {
			for _, ch := range inputs {
				close(ch)
			}
		}()

		pending := make([][]shardDelta, shards)
		flush := func(i int) error {
			if len(pending[i]) == 0 {
				return nil
			}
			select {
			case inputs[i] <- pending[i]:
				pending[i] = nil
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		for e, err := range entries {
			if err != nil {
				return err
			}
			if e.Sequence <= lastSequence {
				return fmt.Errorf("%w: got %d after %d", ErrSequenceOutOfOrder, e.Sequence, lastSequence)
			}
			if err := e.Validate(); err != nil {
				return fmt.Errorf("%w: entry %d: %w", ErrUnbalancedLedger, e.Sequence, err)
			}
			lastSequence = e.Sequence

			for _, c := range e.Contributions() {
				key, sign := orient(c.Debtor, c.Creditor)
				i := shardOf(key, shards)
				pending[i] = append(pending[i], shardDelta{key: key, amount: sign * c.Amount})
				if len(pending[i]) >= parallelBatchSize {
					if err := flush(i); err != nil {
						return err
					}
				}
			}
		}

		for i := range pending {
			if err := flush(i); err != nil {
				return err
			}
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	acc := NewAccumulator()
	acc.lastSequence = lastSequence
	for _, sums := range results {
		for key, v := range sums {
			acc.set(key, v)
		}
	}

	return acc, nil
}

func shardOf(key PairKey, shards int) int {
	h := xxhash.New()
	_, _ = h.WriteString(key.A)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key.B)
	return int(h.Sum64() % uint64(shards))
}
