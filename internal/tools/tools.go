// Package tools implements the capabilities exposed to the model. Each tool
// decodes its own typed arguments, talks to the chain and flow layers, and
// reports back through the agent result contract. Tools that hand the user a
// transaction suspend the loop; the signed hash comes back through
// confirm_transaction.
package tools

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"NamePilot/internal/agent"
	"NamePilot/internal/bridge"
	"NamePilot/internal/chain"
	"NamePilot/internal/chat"
	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/flow"
	"NamePilot/internal/history"
	"NamePilot/internal/waiter"
)

const secondsPerYear = 31536000

// Deps carries the collaborators every tool closes over.
type Deps struct {
	Flows   *flow.Repository
	Chain   chain.Client
	Bridge  *bridge.Solver
	Surface chat.Surface
	Waiter  *waiter.Waiter
	Archive history.Repository
}

// All returns the full tool set in the order it is presented to the model.
func All(deps Deps) []agent.Tool {
	return []agent.Tool{
		checkAvailability(deps),
		nameInfo(deps),
		prepareRegistration(deps),
		completeRegistration(deps),
		confirmTransaction(deps),
		bridgeFunds(deps),
		createSubdomain(deps),
		transferName(deps),
		renewName(deps),
		cancelOperation(deps),
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode tool arguments")
	}
	return nil
}

// guardSingleOperation rejects a new operation while any flow is in flight
// for the user, in any conversation.
func guardSingleOperation(ctx context.Context, deps Deps, userID string) error {
	busy, err := deps.Flows.HasAnyActiveFlow(ctx, userID)
	if err != nil {
		return err
	}
	if busy {
		return xerrors.New(xerrors.CodeConflict,
			"another operation is already in progress; finish or cancel it first")
	}
	return nil
}

// formatEther renders wei as ETH with four decimal places.
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0000"
	}
	rat := new(big.Rat).SetFrac(wei, big.NewInt(1e18))
	return rat.FloatString(4)
}

func yearsToSeconds(years int64) int64 {
	if years <= 0 {
		years = 1
	}
	return years * secondsPerYear
}

func secretFromHex(s string) [32]byte {
	return common.HexToHash(s)
}

func newSecret() (string, [32]byte, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", secret, xerrors.Wrap(xerrors.CodeUnknown, err, "generate commitment secret")
	}
	return "0x" + hex.EncodeToString(secret[:]), secret, nil
}

func normaliseName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "name is required")
	}
	if !strings.HasSuffix(name, ".eth") {
		name += ".eth"
	}
	return name, nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("%s is not a valid address: %q", field, value))
	}
	return common.HexToAddress(value), nil
}

// sendTransactionRequest hands a prepared call to the chat surface for
// signing.
func sendTransactionRequest(ctx context.Context, deps Deps, id agent.Identity, title string, call chain.PreparedCall, signer string) error {
	value := ""
	if call.Value != nil {
		value = call.Value.String()
	}
	return deps.Surface.SendInteractionRequest(ctx, id.ChannelID, chat.InteractionRequest{
		Type:    chat.InteractionTransaction,
		ID:      uuid.NewString(),
		Title:   title,
		ChainID: call.ChainID,
		To:      call.To.Hex(),
		Data:    "0x" + hex.EncodeToString(call.Data),
		Value:   value,
		Signer:  signer,
	}, chat.SendOptions{ConversationID: id.ConversationID})
}

// finishFlow archives a terminal flow and removes it from the active store.
func finishFlow(ctx context.Context, deps Deps, id agent.Identity, status flow.Status) error {
	f, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, status)
	if err != nil {
		return err
	}
	if deps.Archive != nil {
		if err := deps.Archive.Save(ctx, history.FromFlow(f)); err != nil {
			// Archival is best effort; the operation itself succeeded.
			return nil
		}
	}
	return deps.Flows.ClearActiveFlow(ctx, id.UserID, id.ConversationID)
}
