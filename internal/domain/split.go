package domain

import (
	"fmt"
)

// SplitMode is the closed set of ways an expense can be divided.
type SplitMode string

const (
	SplitModeEqual      SplitMode = "equal"
	SplitModeExact      SplitMode = "exact"
	SplitModePercentage SplitMode = "percentage"
)

// ParseSplitMode rejects anything outside the known modes.
func ParseSplitMode(s string) (SplitMode, error) {
	switch m := SplitMode(s); m {
	case SplitModeEqual, SplitModeExact, SplitModePercentage:
		return m, nil
	default:
		return "", splitError(fmt.Sprintf("unknown split mode %q", s), 0, 0)
	}
}

// SplitShare is one participant in a split request. Amount is read for exact
// splits and BasisPoints for percentage splits; equal splits use only UserID.
type SplitShare struct {
	UserID      string
	Amount      int64
	BasisPoints int64
}

// SplitSpec is a caller's description of how to divide an expense.
type SplitSpec struct {
	Mode   SplitMode
	Shares []SplitShare
}

// Participants returns the participant ids in input order.
func (s SplitSpec) Participants() []string {
	ids := make([]string, len(s.Shares))
	for i, sh := range s.Shares {
		ids[i] = sh.UserID
	}
	return ids
}

// ResolveSplits turns a split request into concrete per-participant amounts
// that sum exactly to amount. Remainders from equal and percentage splits go
// one minor unit at a time to the earliest participants in input order.
// known may be nil, in which case participant ids are not checked.
func ResolveSplits(amount int64, spec SplitSpec, known func(string) bool) ([]Split, error) {
	if amount <= 0 {
		return nil, splitError("total must be positive", 0, amount)
	}

	if amount > MaxAmount {
		return nil, splitError("total exceeds the supported maximum", MaxAmount, amount)
	}

	if len(spec.Shares) == 0 {
		return nil, splitError("no participants", 0, 0)
	}

	seen := make(map[string]struct{}, len(spec.Shares))
	for _, sh := range spec.Shares {
		if sh.UserID == "" {
			return nil, splitError("empty participant id", 0, 0)
		}
		if _, dup := seen[sh.UserID]; dup {
			return nil, splitError("duplicate participant "+sh.UserID, 0, 0)
		}
		seen[sh.UserID] = struct{}{}

		if known != nil && !known(sh.UserID) {
			return nil, unknownParticipant(sh.UserID)
		}
	}

	switch spec.Mode {
	case SplitModeEqual:
		return splitEqual(amount, spec.Shares), nil
	case SplitModeExact:
		return splitExact(amount, spec.Shares)
	case SplitModePercentage:
		return splitPercentage(amount, spec.Shares)
	default:
		return nil, splitError(fmt.Sprintf("unknown split mode %q", spec.Mode), 0, 0)
	}
}

func splitEqual(amount int64, shares []SplitShare) []Split {
	n := int64(len(shares))
	base, rem := amount/n, amount%n

	out := make([]Split, len(shares))
	for i, sh := range shares {
		out[i] = Split{UserID: sh.UserID, Amount: base}
		if int64(i) < rem {
			out[i].Amount++
		}
	}
	return out
}

func splitExact(amount int64, shares []SplitShare) ([]Split, error) {
	out := make([]Split, len(shares))
	var sum int64
	for i, sh := range shares {
		if sh.Amount < 0 {
			return nil, splitError("negative share for "+sh.UserID, 0, sh.Amount)
		}
		if sh.Amount > MaxAmount {
			return nil, splitError("share exceeds the expense amount", amount, sh.Amount)
		}
		sum += sh.Amount
		out[i] = Split{UserID: sh.UserID, Amount: sh.Amount}
	}

	if sum != amount {
		return nil, splitError("shares do not sum to the expense amount", amount, sum)
	}
	return out, nil
}

func splitPercentage(amount int64, shares []SplitShare) ([]Split, error) {
	var total int64
	for _, sh := range shares {
		if sh.BasisPoints < 0 {
			return nil, splitError("negative percentage for "+sh.UserID, 0, sh.BasisPoints)
		}
		if sh.BasisPoints > FullPercentage {
			return nil, splitError("percentage exceeds 100 for "+sh.UserID, FullPercentage, sh.BasisPoints)
		}
		total += sh.BasisPoints
	}

	if total != FullPercentage {
		return nil, splitError("percentages must sum to 100.00", FullPercentage, total)
	}

	out := make([]Split, len(shares))
	var allocated int64
	for i, sh := range shares {
		part := amount * sh.BasisPoints / FullPercentage
		out[i] = Split{UserID: sh.UserID, Amount: part}
		allocated += part
	}

	// Each floor loses less than one unit, so the remainder is smaller than
	// the number of participants with a non-zero percentage.
	rem := amount - allocated
	for i := 0; rem > 0 && i < len(out); i++ {
		if shares[i].BasisPoints == 0 {
			continue
		}
		out[i].Amount++
		rem--
	}

	return out, nil
}
