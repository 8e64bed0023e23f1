package domain

import (
	"container/heap"
	"fmt"
)

// Payment is a suggested transfer that moves money from a debtor to a
// creditor.
type Payment struct {
	From   string
	To     string
	Amount int64
}

type position struct {
	userID string
	amount int64 // magnitude, always > 0
}

// positionHeap is a max-heap by amount. Ties go to the lower user id so the
// plan is deterministic.
type positionHeap []position

func (h positionHeap) Len() int { return len(h) }
func (h positionHeap) Less(i, j int) bool {
	if h[i].amount != h[j].amount {
		return h[i].amount > h[j].amount
	}
	return h[i].userID < h[j].userID
}
func (h positionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *positionHeap) Push(x any)   { *h = append(*h, x.(position)) }
func (h *positionHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// PlanSettlements proposes payments that bring every net position in the
// graph to zero.
func PlanSettlements(g BalanceGraph) ([]Payment, error) {
	return PlanFromPositions(g.NetPositions())
}

// PlanFromPositions matches the largest creditor with the largest debtor
// until both sides are exhausted. This greedy plan uses at most one payment
// fewer than the number of non-zero positions. It is not guaranteed to be the
// smallest possible plan.
func PlanFromPositions(net map[string]int64) ([]Payment, error) {
	creditors := &positionHeap{}
	debtors := &positionHeap{}

	var credit, debt int64
	for id, v := range net {
		switch {
		case v > 0:
			*creditors = append(*creditors, position{userID: id, amount: v})
			credit += v
		case v < 0:
			*debtors = append(*debtors, position{userID: id, amount: -v})
			debt += -v
		}
	}

	if credit != debt {
		return nil, fmt.Errorf("%w: credits %d, debits %d", ErrUnbalancedLedger, credit, debt)
	}

	heap.Init(creditors)
	heap.Init(debtors)

	payments := make([]Payment, 0, max(creditors.Len()+debtors.Len()-1, 0))
	for creditors.Len() > 0 && debtors.Len() > 0 {
		c := heap.Pop(creditors).(position)
		d := heap.Pop(debtors).(position)

		amount := min(c.amount, d.amount)
		payments = append(payments, Payment{From: d.userID, To: c.userID, Amount: amount})

		if c.amount > amount {
			heap.Push(creditors, position{userID: c.userID, amount: c.amount - amount})
		}
		if d.amount > amount {
			heap.Push(debtors, position{userID: d.userID, amount: d.amount - amount})
		}
	}

	return payments, nil
}

// PaymentsInvolving filters a plan down to payments where userID pays or is
// paid.
func PaymentsInvolving(plan []Payment, userID string) []Payment {
	var out []Payment
	for _, p := range plan {
		if p.From == userID || p.To == userID {
			out = append(out, p)
		}
	}
	return out
}
