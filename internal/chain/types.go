// Package chain defines the typed contract the agent needs from the
// blockchain layer. Implementations live in subpackages; callers treat every
// operation as a pure request/response returning typed results.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Availability reports whether a name can be registered and at what rent.
type Availability struct {
	Name      string
	Available bool
	// RentPrice is the wei price for the requested duration.
	RentPrice *big.Int
}

// Ownership resolves the actual controller of a name. Wrapped names are held
// by an intermediary contract, so the registry owner is followed one level to
// the wrapper's token owner.
type Ownership struct {
	Name    string
	Owner   common.Address
	Wrapped bool
}

// PreparedCall is an encoded contract call ready to be handed to the signing
// surface.
type PreparedCall struct {
	ChainID uint64
	To      common.Address
	Data    []byte
	Value   *big.Int
}

// BridgeQuote is the bridge's answer for a given input amount.
type BridgeQuote struct {
	SourceChainID uint64
	DestChainID   uint64
	Input         *big.Int
	Output        *big.Int
}

// Fee returns input - output, the proportional cost of the bridge.
func (q BridgeQuote) Fee() *big.Int {
	return new(big.Int).Sub(q.Input, q.Output)
}

// Reader answers read-only questions about names and balances.
type Reader interface {
	Availability(ctx context.Context, name string, durationSeconds int64) (Availability, error)
	Expiry(ctx context.Context, name string) (time.Time, error)
	Ownership(ctx context.Context, name string) (Ownership, error)
	RentPrice(ctx context.Context, name string, durationSeconds int64) (*big.Int, error)
	Balance(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error)
}

// Encoder builds the contract calls the flows need signed.
type Encoder interface {
	MakeCommitment(ctx context.Context, name string, owner common.Address, durationSeconds int64, secret [32]byte) (common.Hash, error)
	EncodeCommit(commitment common.Hash) (PreparedCall, error)
	EncodeRegister(name string, owner common.Address, durationSeconds int64, secret [32]byte, value *big.Int) (PreparedCall, error)
	EncodeRenew(name string, durationSeconds int64, value *big.Int) (PreparedCall, error)
	EncodeCreateSubdomain(parent, label string, owner common.Address) (PreparedCall, error)
	EncodeSetAddr(name string, addr common.Address) (PreparedCall, error)
	EncodeTransfer(name string, from, to common.Address) (PreparedCall, error)
}

// Estimator prices a prepared call in wei (gas units times suggested price).
type Estimator interface {
	EstimateGas(ctx context.Context, from common.Address, call PreparedCall) (*big.Int, error)
}

// Quoter answers bridge quotes. Quotes must be deterministic for identical
// inputs.
type Quoter interface {
	BridgeQuote(ctx context.Context, input *big.Int, sourceChainID, destChainID uint64) (BridgeQuote, error)
}

// Client is the full chain collaborator surface.
type Client interface {
	Reader
	Encoder
	Estimator
	Quoter
	Close()
}
