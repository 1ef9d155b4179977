// Package ethereum implements the chain collaborator on go-ethereum.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"NamePilot/internal/chain"
	xerrors "NamePilot/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client talks to one primary chain (name registry) and any number of
// secondary chains (balances, bridge source).
type Client struct {
	clients        map[uint64]*ethclient.Client
	primaryChainID uint64

	controller    common.Address
	baseRegistrar common.Address
	registry      common.Address
	nameWrapper   common.Address
	resolver      common.Address

	controllerABI abi.ABI
	registryABI   abi.ABI
	registrarABI  abi.ABI
	wrapperABI    abi.ABI
	resolverABI   abi.ABI

	bridgeFeeBps int64
}

// NewClient dials every configured chain and parses the contract ABIs.
func NewClient(ctx context.Context, defs chain.Definitions) (*Client, error) {
	if len(defs.Chains) == 0 {
		return nil, errors.New("no chains configured")
	}
	primary, ok := defs.Chains[defs.Primary]
	if !ok {
		return nil, fmt.Errorf("primary chain %q not defined", defs.Primary)
	}

	clients := make(map[uint64]*ethclient.Client, len(defs.Chains))
	for name, def := range defs.Chains {
		if strings.TrimSpace(def.RPCURL) == "" {
			return nil, fmt.Errorf("chain %q has no rpc_url", name)
		}
		client, err := ethclient.DialContext(ctx, def.RPCURL)
		if err != nil {
			for _, opened := range clients {
				opened.Close()
			}
			return nil, fmt.Errorf("dial chain %q: %w", name, err)
		}
		clients[def.ChainID] = client
	}

	c := &Client{
		clients:        clients,
		primaryChainID: primary.ChainID,
		controller:     common.HexToAddress(defs.Contracts.Controller),
		baseRegistrar:  common.HexToAddress(defs.Contracts.BaseRegistrar),
		registry:       common.HexToAddress(defs.Contracts.Registry),
		nameWrapper:    common.HexToAddress(defs.Contracts.NameWrapper),
		resolver:       common.HexToAddress(defs.Contracts.Resolver),
		bridgeFeeBps:   defs.BridgeFeeBps,
	}
	for _, parse := range []struct {
		json string
		dst  *abi.ABI
	}{
		{controllerABI, &c.controllerABI},
		{registryABI, &c.registryABI},
		{registrarABI, &c.registrarABI},
		{wrapperABI, &c.wrapperABI},
		{resolverABI, &c.resolverABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(parse.json))
		if err != nil {
			return nil, fmt.Errorf("parse contract abi: %w", err)
		}
		*parse.dst = parsed
	}
	return c, nil
}

// Close releases every chain connection.
func (c *Client) Close() {
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = nil
}

func (c *Client) primary() (*ethclient.Client, error) {
	client, ok := c.clients[c.primaryChainID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "primary chain not connected")
	}
	return client, nil
}

// call performs an eth_call against the primary chain and unpacks the result.
func (c *Client) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	client, err := c.primary()
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "encode "+method)
	}
	raw, err := client.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, method+" call failed")
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "decode "+method+" result")
	}
	return out, nil
}

// Availability implements chain.Reader.
func (c *Client) Availability(ctx context.Context, name string, durationSeconds int64) (chain.Availability, error) {
	label, _ := SplitLabel(name)
	out, err := c.call(ctx, c.controllerABI, c.controller, "available", label)
	if err != nil {
		return chain.Availability{}, err
	}
	available := *abi.ConvertType(out[0], new(bool)).(*bool)
	result := chain.Availability{Name: name, Available: available}
	if !available {
		return result, nil
	}
	price, err := c.RentPrice(ctx, name, durationSeconds)
	if err != nil {
		return chain.Availability{}, err
	}
	result.RentPrice = price
	return result, nil
}

// RentPrice implements chain.Reader.
func (c *Client) RentPrice(ctx context.Context, name string, durationSeconds int64) (*big.Int, error) {
	label, _ := SplitLabel(name)
	out, err := c.call(ctx, c.controllerABI, c.controller, "rentPrice", label, big.NewInt(durationSeconds))
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Expiry implements chain.Reader.
func (c *Client) Expiry(ctx context.Context, name string) (time.Time, error) {
	label, _ := SplitLabel(name)
	tokenID := new(big.Int).SetBytes(Labelhash(label).Bytes())
	out, err := c.call(ctx, c.registrarABI, c.baseRegistrar, "nameExpires", tokenID)
	if err != nil {
		return time.Time{}, err
	}
	expires := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	return time.Unix(expires.Int64(), 0), nil
}

// Ownership implements chain.Reader, following wrapped-name indirection: when
// the registry owner is the wrapper contract, the actual owner is the
// wrapper's token holder.
func (c *Client) Ownership(ctx context.Context, name string) (chain.Ownership, error) {
	node := Namehash(name)
	out, err := c.call(ctx, c.registryABI, c.registry, "owner", [32]byte(node))
	if err != nil {
		return chain.Ownership{}, err
	}
	owner := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if owner != c.nameWrapper {
		return chain.Ownership{Name: name, Owner: owner}, nil
	}
	tokenID := new(big.Int).SetBytes(node.Bytes())
	out, err = c.call(ctx, c.wrapperABI, c.nameWrapper, "ownerOf", tokenID)
	if err != nil {
		return chain.Ownership{}, err
	}
	actual := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	return chain.Ownership{Name: name, Owner: actual, Wrapped: true}, nil
}

// Balance implements chain.Reader for any connected chain.
func (c *Client) Balance(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error) {
	client, ok := c.clients[chainID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainFailure, fmt.Sprintf("chain %d not connected", chainID))
	}
	balance, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "query balance")
	}
	return balance, nil
}

// MakeCommitment implements chain.Encoder via the controller's view method so
// the hash always matches the deployed contract.
func (c *Client) MakeCommitment(ctx context.Context, name string, owner common.Address, durationSeconds int64, secret [32]byte) (common.Hash, error) {
	label, _ := SplitLabel(name)
	out, err := c.call(ctx, c.controllerABI, c.controller, "makeCommitment", label, owner, big.NewInt(durationSeconds), secret)
	if err != nil {
		return common.Hash{}, err
	}
	commitment := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return common.BytesToHash(commitment[:]), nil
}

// EncodeCommit implements chain.Encoder.
func (c *Client) EncodeCommit(commitment common.Hash) (chain.PreparedCall, error) {
	var fixed [32]byte
	copy(fixed[:], commitment.Bytes())
	data, err := c.controllerABI.Pack("commit", fixed)
	if err != nil {
		return chain.PreparedCall{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "encode commit")
	}
	return chain.PreparedCall{ChainID: c.primaryChainID, To: c.controller, Data: data, Value: new(big.Int)}, nil
}

// EncodeRegister implements chain.Encoder.
func (c *Client) EncodeRegister(name string, owner common.Address, durationSeconds int64, secret [32]byte, value *big.Int) (chain.PreparedCall, error) {
	label, _ := SplitLabel(name)
	data, err := c.controllerABI.Pack("register", label, owner, big.NewInt(durationSeconds), secret)
	if err != nil {
		return chain.PreparedCall{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "encode register")
	}
	return chain.PreparedCall{ChainID: c.primaryChainID, To: c.controller, Data: data, Value: value}, nil
}

// EncodeRenew implements chain.Encoder.
func (c *Client) EncodeRenew(name string, durationSeconds int64, value *big.Int) (chain.PreparedCall, error) {
	label, _ := SplitLabel(name)
	data, err := c.controllerABI.Pack("renew", label, big.NewInt(durationSeconds))
	if err != nil {
		return chain.PreparedCall{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "encode renew")
	}
	return chain.PreparedCall{ChainID: c.primaryChainID, To: c.controller, Data: data, Value: value}, nil
}

// EncodeCreateSubdomain implements chain.Encoder.
func (c *Client) EncodeCreateSubdomain(parent, label string, owner common.Address) (chain.PreparedCall, error) {
	var labelFixed [32]byte
	copy(labelFixed[:], Labelhash(label).Bytes())
	data, err := c.registryABI.Pack("setSubnodeOwner", [32]byte(Namehash(parent)), labelFixed, owner)
	if err != nil {
		return chain.PreparedCall{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "encode setSubnodeOwner")
	}
	return chain.PreparedCall{ChainID: c.primaryChainID, To: c.registry, Data: data, Value: new(big.Int)}, nil
}

// EncodeSetAddr implements chain.Encoder.
func (c *Client) EncodeSetAddr(name string, addr common.Address) (chain.PreparedCall, error) {
	data, err := c.resolverABI.Pack("setAddr", [32]byte(Namehash(name)), addr)
	if err != nil {
		return chain.PreparedCall{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "encode setAddr")
	}
	return chain.PreparedCall{ChainID: c.primaryChainID, To: c.resolver, Data: data, Value: new(big.Int)}, nil
}

// EncodeTransfer implements chain.Encoder for second-level names held by the
// base registrar.
func (c *Client) EncodeTransfer(name string, from, to common.Address) (chain.PreparedCall, error) {
	label, _ := SplitLabel(name)
	tokenID := new(big.Int).SetBytes(Labelhash(label).Bytes())
	data, err := c.registrarABI.Pack("safeTransferFrom", from, to, tokenID)
	if err != nil {
		return chain.PreparedCall{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "encode safeTransferFrom")
	}
	return chain.PreparedCall{ChainID: c.primaryChainID, To: c.baseRegistrar, Data: data, Value: new(big.Int)}, nil
}

// EstimateGas implements chain.Estimator, returning the wei cost at the
// currently suggested gas price.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, call chain.PreparedCall) (*big.Int, error) {
	client, ok := c.clients[call.ChainID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainFailure, fmt.Sprintf("chain %d not connected", call.ChainID))
	}
	msg := gethcore.CallMsg{From: from, To: &call.To, Data: call.Data, Value: call.Value}
	units, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "estimate gas")
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "suggest gas price")
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(units), price), nil
}

// BridgeQuote implements chain.Quoter with the configured proportional fee.
// The quote is a pure function of the input, so identical requests always
// produce identical answers.
func (c *Client) BridgeQuote(_ context.Context, input *big.Int, sourceChainID, destChainID uint64) (chain.BridgeQuote, error) {
	if input == nil || input.Sign() <= 0 {
		return chain.BridgeQuote{}, xerrors.New(xerrors.CodeInvalidArgument, "bridge input must be positive")
	}
	keep := big.NewInt(10000 - c.bridgeFeeBps)
	output := new(big.Int).Mul(input, keep)
	output.Div(output, big.NewInt(10000))
	return chain.BridgeQuote{
		SourceChainID: sourceChainID,
		DestChainID:   destChainID,
		Input:         new(big.Int).Set(input),
		Output:        output,
	}, nil
}

var _ chain.Client = (*Client)(nil)
