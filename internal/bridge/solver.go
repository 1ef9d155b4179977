// Package bridge computes how much to move cross-chain so that, after the
// bridge's proportional fee, the destination receives at least a target
// amount. This is a two-pass estimate-then-confirm, never a fixed-point
// iteration: if the confirming quote still falls short, the caller gets an
// error rather than a silently under-funded transfer.
package bridge

import (
	"context"
	"fmt"
	"math/big"

	"NamePilot/internal/chain"
	xerrors "NamePilot/internal/errors"
)

// defaultMarginBps inflates the learned fee by 10% before the confirming
// quote, absorbing small fee drift between the two passes.
const defaultMarginBps = 1000

// Plan is a solved bridge transfer.
type Plan struct {
	SourceChainID  uint64
	DestChainID    uint64
	Input          *big.Int
	ExpectedOutput *big.Int
	Fee            *big.Int
}

// Solver sizes bridge transfers against a quoter.
type Solver struct {
	quoter    chain.Quoter
	marginBps int64
}

// NewSolver creates a Solver. marginBps below the 10% floor is raised to it.
func NewSolver(quoter chain.Quoter, marginBps int64) *Solver {
	if marginBps < defaultMarginBps {
		marginBps = defaultMarginBps
	}
	return &Solver{quoter: quoter, marginBps: marginBps}
}

// Solve returns the input amount to bridge so the destination receives at
// least target. sourceBalance and sourceGas guard affordability: the input
// plus source-side gas must fit in the balance, and the exact shortfall is
// reported when it does not.
func (s *Solver) Solve(ctx context.Context, target, sourceBalance, sourceGas *big.Int, sourceChainID, destChainID uint64) (*Plan, error) {
	if target == nil || target.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "bridge target must be positive")
	}

	// First pass: quote the naive target to learn the fee schedule.
	probe, err := s.quoter.BridgeQuote(ctx, target, sourceChainID, destChainID)
	if err != nil {
		return nil, err
	}
	fee := probe.Fee()
	if fee.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeChainFailure, "bridge quoted output above input")
	}

	// Inflate the fee by the safety margin and add it to the target.
	inflated := new(big.Int).Mul(fee, big.NewInt(10000+s.marginBps))
	inflated.Div(inflated, big.NewInt(10000))
	candidate := new(big.Int).Add(target, inflated)

	// Second pass: confirm the candidate actually clears the target.
	confirm, err := s.quoter.BridgeQuote(ctx, candidate, sourceChainID, destChainID)
	if err != nil {
		return nil, err
	}
	if confirm.Output.Cmp(target) < 0 {
		short := new(big.Int).Sub(target, confirm.Output)
		return nil, xerrors.New(xerrors.CodeBridgeShortfall,
			fmt.Sprintf("bridged amount would arrive %s wei short; fees are too high for this amount", short))
	}

	// Affordability: input plus source gas must fit within the balance.
	if sourceGas == nil {
		sourceGas = new(big.Int)
	}
	required := new(big.Int).Add(candidate, sourceGas)
	if sourceBalance == nil || sourceBalance.Cmp(required) < 0 {
		have := new(big.Int)
		if sourceBalance != nil {
			have.Set(sourceBalance)
		}
		missing := new(big.Int).Sub(required, have)
		return nil, xerrors.New(xerrors.CodeInsufficientFunds,
			fmt.Sprintf("need %s wei on the source chain (amount + gas) but the wallet is %s wei short", required, missing))
	}

	return &Plan{
		SourceChainID:  sourceChainID,
		DestChainID:    destChainID,
		Input:          candidate,
		ExpectedOutput: confirm.Output,
		Fee:            new(big.Int).Sub(candidate, confirm.Output),
	}, nil
}
