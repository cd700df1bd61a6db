package application

import (
	"fmt"
	"sort"

	"github.com/ark-network/coinjoin/internal/core/domain"
)

type PlanRequest struct {
	// NetAmount must be fully consumed by the outputs and their fees.
	NetAmount   uint64
	OutputFee   uint64
	OutputVsize uint64
	VsizeBudget uint64
	MinAmount   uint64
	MaxAmount   uint64
	// Amounts already seen in the round, candidates for blending.
	Denominations []uint64
}

// OutputPlanner decides how an Alice's net amount is split into outputs.
// Implementations must return at least one amount, and the returned amounts
// plus one OutputFee each must add up to NetAmount.
type OutputPlanner interface {
	Plan(req PlanRequest) ([]uint64, error)
}

type splitPlanner struct{}

// NewSplitPlanner returns the default planner: a single output when only one
// fits, two outputs of comparable amount otherwise, more only when needed to
// stay below the maximum output amount.
func NewSplitPlanner() OutputPlanner {
	return splitPlanner{}
}

func (p splitPlanner) Plan(req PlanRequest) ([]uint64, error) {
	minAmount := req.MinAmount
	if minAmount == 0 {
		minAmount = 1
	}
	unit := minAmount + req.OutputFee
	if req.NetAmount < unit {
		return nil, fmt.Errorf(
			"%w: net amount %d below minimum output %d plus fee %d",
			domain.ErrAmountTooSmall, req.NetAmount, minAmount, req.OutputFee,
		)
	}
	if req.OutputVsize == 0 || req.OutputVsize > req.VsizeBudget {
		return nil, fmt.Errorf(
			"%w: output vsize %d does not fit budget %d",
			domain.ErrOutputPlanning, req.OutputVsize, req.VsizeBudget,
		)
	}
	maxCount := req.VsizeBudget / req.OutputVsize

	count := uint64(1)
	if req.NetAmount >= 2*unit && maxCount >= 2 {
		count = 2
	}
	for req.MaxAmount > 0 && largestShare(req.NetAmount, req.OutputFee, count) > req.MaxAmount {
		count++
		if count > maxCount || req.NetAmount < count*unit {
			return nil, fmt.Errorf(
				"%w: net amount %d cannot be split below maximum output %d",
				domain.ErrOutputPlanning, req.NetAmount, req.MaxAmount,
			)
		}
	}

	if count == 2 {
		if amounts, ok := blend(req, minAmount); ok {
			return amounts, nil
		}
	}
	return evenSplit(req.NetAmount, req.OutputFee, count), nil
}

func largestShare(net, fee, count uint64) uint64 {
	total := net - count*fee
	share := total / count
	if total%count != 0 {
		share++
	}
	return share
}

func evenSplit(net, fee, count uint64) []uint64 {
	total := net - count*fee
	base, rest := total/count, total%count
	amounts := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		amount := base
		if i < rest {
			amount++
		}
		amounts = append(amounts, amount)
	}
	return amounts
}

// blend looks for an amount already present in the round close enough to
// half of the net amount, so that one of the outputs matches it.
func blend(req PlanRequest, minAmount uint64) ([]uint64, bool) {
	total := req.NetAmount - 2*req.OutputFee
	half := total / 2
	tolerance := half / 4

	candidates := append([]uint64{}, req.Denominations...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] > candidates[j] })

	best, found := uint64(0), false
	for _, d := range candidates {
		if d < minAmount || d > total-minAmount {
			continue
		}
		if req.MaxAmount > 0 && (d > req.MaxAmount || total-d > req.MaxAmount) {
			continue
		}
		if distance(d, half) > tolerance {
			continue
		}
		if !found || distance(d, half) < distance(best, half) {
			best, found = d, true
		}
	}
	if !found {
		return nil, false
	}
	amounts := []uint64{best, total - best}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] > amounts[j] })
	return amounts, true
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
