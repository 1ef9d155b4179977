package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"NamePilot/internal/agent"
	"NamePilot/internal/chat"
	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/flow"
	"NamePilot/internal/session"
	"NamePilot/pkg/logger"
)

// bridgeGasReserveWei is held back on the source chain so the bridge
// transaction itself can still be paid for.
var bridgeGasReserveWei = big.NewInt(500000000000000)

type bridgeFundsArgs struct {
	TargetAmountWei string `json:"target_amount_wei"`
	SourceChainID   uint64 `json:"source_chain_id"`
	DestChainID     uint64 `json:"dest_chain_id"`
	Wallet          string `json:"wallet"`
	NextAction      string `json:"next_action"`
}

// bridgeFunds solves for the input amount that lands at least the target on
// the destination chain, then hands the user the bridge transaction.
func bridgeFunds(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "bridge_funds",
		Description: "Bridge funds between chains so that at least a target amount arrives on the destination chain.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"target_amount_wei": {"type": "string", "description": "The amount in wei that must arrive on the destination chain"},
				"source_chain_id": {"type": "integer"},
				"dest_chain_id": {"type": "integer"},
				"wallet": {"type": "string"},
				"next_action": {"type": "string", "description": "Optional operation to resume once the funds land, e.g. register vault.eth"}
			},
			"required": ["target_amount_wei", "source_chain_id", "dest_chain_id", "wallet"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, id agent.Identity) (*agent.Result, error) {
			var args bridgeFundsArgs
			if err := decodeArgs(raw, &args); err != nil {
				return agent.Fail(err), nil
			}
			wallet, err := parseAddress("wallet", args.Wallet)
			if err != nil {
				return agent.Fail(err), nil
			}
			target, err := flow.ParseBigInt(args.TargetAmountWei)
			if err != nil {
				return agent.Fail(xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse target amount")), nil
			}
			if err := guardSingleOperation(ctx, deps, id.UserID); err != nil {
				return agent.Fail(err), nil
			}

			balance, err := deps.Chain.Balance(ctx, args.SourceChainID, wallet)
			if err != nil {
				return agent.Fail(err), nil
			}
			plan, err := deps.Bridge.Solve(ctx, target.Int(), balance, bridgeGasReserveWei,
				args.SourceChainID, args.DestChainID)
			if err != nil {
				return agent.Fail(err), nil
			}

			f, err := flow.New(id.UserID, id.ConversationID, id.ChannelID, flow.TypeBridge, flow.BridgeData{
				SourceChainID: args.SourceChainID,
				DestChainID:   args.DestChainID,
				TargetAmount:  target,
				InputAmount:   flow.NewBigInt(plan.Input),
				QuotedOutput:  flow.NewBigInt(plan.ExpectedOutput),
				NextAction:    args.NextAction,
			})
			if err != nil {
				return nil, err
			}
			if err := deps.Flows.SetActiveFlow(ctx, f); err != nil {
				return nil, err
			}
			if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusAwaitingBridge); err != nil {
				return nil, err
			}

			if err := deps.Surface.SendInteractionRequest(ctx, id.ChannelID, chat.InteractionRequest{
				Type:    chat.InteractionTransaction,
				ID:      uuid.NewString(),
				Title:   fmt.Sprintf("Bridge %s ETH to chain %d", formatEther(plan.Input), args.DestChainID),
				ChainID: args.SourceChainID,
				Value:   plan.Input.String(),
				Signer:  wallet.Hex(),
			}, chat.SendOptions{ConversationID: id.ConversationID}); err != nil {
				return agent.Fail(err), nil
			}

			logger.L().Info("bridge prepared", "user_id", id.UserID,
				"input", plan.Input, "expected_output", plan.ExpectedOutput)
			return agent.Suspend(map[string]any{
				"inputWei":          plan.Input.String(),
				"inputEth":          formatEther(plan.Input),
				"expectedOutputWei": plan.ExpectedOutput.String(),
				"feeWei":            plan.Fee.String(),
			}, "sign_bridge_transaction", session.StatusAwaitingSignature), nil
		},
	}
}

type createSubdomainArgs struct {
	Parent    string `json:"parent"`
	Label     string `json:"label"`
	Recipient string `json:"recipient"`
	Wallet    string `json:"wallet"`
}

// createSubdomain opens the multi-step subdomain flow. The step count depends
// on whether the recipient is the creating wallet.
func createSubdomain(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "create_subdomain",
		Description: "Create a subdomain under an ENS name the user owns and point it at a recipient address.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"parent": {"type": "string", "description": "The parent name, e.g. vault.eth"},
				"label": {"type": "string", "description": "The subdomain label, e.g. pay"},
				"recipient": {"type": "string", "description": "The address the subdomain should resolve to and be owned by"},
				"wallet": {"type": "string", "description": "The user's wallet, which must own the parent"}
			},
			"required": ["parent", "label", "recipient", "wallet"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, id agent.Identity) (*agent.Result, error) {
			var args createSubdomainArgs
			if err := decodeArgs(raw, &args); err != nil {
				return agent.Fail(err), nil
			}
			parent, err := normaliseName(args.Parent)
			if err != nil {
				return agent.Fail(err), nil
			}
			if args.Label == "" {
				return agent.Fail(xerrors.New(xerrors.CodeInvalidArgument, "label is required")), nil
			}
			wallet, err := parseAddress("wallet", args.Wallet)
			if err != nil {
				return agent.Fail(err), nil
			}
			recipient, err := parseAddress("recipient", args.Recipient)
			if err != nil {
				return agent.Fail(err), nil
			}
			if err := guardSingleOperation(ctx, deps, id.UserID); err != nil {
				return agent.Fail(err), nil
			}

			ownership, err := deps.Chain.Ownership(ctx, parent)
			if err != nil {
				return agent.Fail(err), nil
			}
			if ownership.Owner != wallet {
				return agent.Fail(xerrors.New(xerrors.CodeOwnerMismatch,
					fmt.Sprintf("%s is owned by %s, not the connected wallet", parent, ownership.Owner.Hex()))), nil
			}

			steps := flow.SubdomainSteps(wallet.Hex(), recipient.Hex())
			fullName := args.Label + "." + parent

			// The wallet is the temporary owner; a three-step flow hands
			// ownership over at the end.
			call, err := deps.Chain.EncodeCreateSubdomain(parent, args.Label, wallet)
			if err != nil {
				return agent.Fail(err), nil
			}

			f, err := flow.New(id.UserID, id.ConversationID, id.ChannelID, flow.TypeSubdomain, flow.SubdomainData{
				Parent:     parent,
				Label:      args.Label,
				Recipient:  recipient.Hex(),
				Wallet:     wallet.Hex(),
				TotalSteps: steps,
			})
			if err != nil {
				return nil, err
			}
			if err := deps.Flows.SetActiveFlow(ctx, f); err != nil {
				return nil, err
			}
			if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusStep1Pending); err != nil {
				return nil, err
			}

			if err := sendTransactionRequest(ctx, deps, id,
				fmt.Sprintf("Create %s (step 1 of %d)", fullName, steps), call, wallet.Hex()); err != nil {
				return agent.Fail(err), nil
			}

			return agent.Suspend(map[string]any{
				"name":       fullName,
				"totalSteps": steps,
			}, "sign_subdomain_step_1", session.StatusAwaitingSignature), nil
		},
	}
}

type transferNameArgs struct {
	Name   string `json:"name"`
	To     string `json:"to"`
	Wallet string `json:"wallet"`
}

// transferName hands over ownership of a name. The transfer is irreversible,
// which the result states explicitly so the model warns the user.
func transferName(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "transfer_name",
		Description: "Transfer ownership of an ENS name to another address. This cannot be undone.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"to": {"type": "string", "description": "The address receiving the name"},
				"wallet": {"type": "string", "description": "The current owner's wallet"}
			},
			"required": ["name", "to", "wallet"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, id agent.Identity) (*agent.Result, error) {
			var args transferNameArgs
			if err := decodeArgs(raw, &args); err != nil {
				return agent.Fail(err), nil
			}
			name, err := normaliseName(args.Name)
			if err != nil {
				return agent.Fail(err), nil
			}
			wallet, err := parseAddress("wallet", args.Wallet)
			if err != nil {
				return agent.Fail(err), nil
			}
			to, err := parseAddress("to", args.To)
			if err != nil {
				return agent.Fail(err), nil
			}
			if to == wallet {
				return agent.Fail(xerrors.New(xerrors.CodeInvalidArgument, "the recipient is already the owner")), nil
			}
			if err := guardSingleOperation(ctx, deps, id.UserID); err != nil {
				return agent.Fail(err), nil
			}

			ownership, err := deps.Chain.Ownership(ctx, name)
			if err != nil {
				return agent.Fail(err), nil
			}
			if ownership.Owner != wallet {
				return agent.Fail(xerrors.New(xerrors.CodeOwnerMismatch,
					fmt.Sprintf("%s is owned by %s, not the connected wallet", name, ownership.Owner.Hex()))), nil
			}

			call, err := deps.Chain.EncodeTransfer(name, wallet, to)
			if err != nil {
				return agent.Fail(err), nil
			}

			f, err := flow.New(id.UserID, id.ConversationID, id.ChannelID, flow.TypeTransfer, flow.TransferData{
				Name:         name,
				From:         wallet.Hex(),
				To:           to.Hex(),
				Irreversible: true,
			})
			if err != nil {
				return nil, err
			}
			if err := deps.Flows.SetActiveFlow(ctx, f); err != nil {
				return nil, err
			}
			if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusAwaitingSignature); err != nil {
				return nil, err
			}

			if err := sendTransactionRequest(ctx, deps, id,
				fmt.Sprintf("Transfer %s to %s", name, to.Hex()), call, wallet.Hex()); err != nil {
				return agent.Fail(err), nil
			}

			return agent.Suspend(map[string]any{
				"name":         name,
				"to":           to.Hex(),
				"irreversible": true,
			}, "sign_transfer_transaction", session.StatusAwaitingSignature), nil
		},
	}
}

type renewNameArgs struct {
	Name          string `json:"name"`
	DurationYears int64  `json:"duration_years"`
	Wallet        string `json:"wallet"`
}

func renewName(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "renew_name",
		Description: "Extend the registration of an ENS name.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"duration_years": {"type": "integer", "description": "Extension length in years, default 1"},
				"wallet": {"type": "string"}
			},
			"required": ["name", "wallet"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, id agent.Identity) (*agent.Result, error) {
			var args renewNameArgs
			if err := decodeArgs(raw, &args); err != nil {
				return agent.Fail(err), nil
			}
			name, err := normaliseName(args.Name)
			if err != nil {
				return agent.Fail(err), nil
			}
			wallet, err := parseAddress("wallet", args.Wallet)
			if err != nil {
				return agent.Fail(err), nil
			}
			if err := guardSingleOperation(ctx, deps, id.UserID); err != nil {
				return agent.Fail(err), nil
			}

			duration := yearsToSeconds(args.DurationYears)
			price, err := deps.Chain.RentPrice(ctx, name, duration)
			if err != nil {
				return agent.Fail(err), nil
			}
			call, err := deps.Chain.EncodeRenew(name, duration, price)
			if err != nil {
				return agent.Fail(err), nil
			}

			f, err := flow.New(id.UserID, id.ConversationID, id.ChannelID, flow.TypeRenewal, flow.RenewalData{
				Name:            name,
				DurationSeconds: duration,
				Price:           flow.NewBigInt(price),
				Wallet:          wallet.Hex(),
			})
			if err != nil {
				return nil, err
			}
			if err := deps.Flows.SetActiveFlow(ctx, f); err != nil {
				return nil, err
			}
			if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusAwaitingSignature); err != nil {
				return nil, err
			}

			if err := sendTransactionRequest(ctx, deps, id,
				fmt.Sprintf("Renew %s", name), call, wallet.Hex()); err != nil {
				return agent.Fail(err), nil
			}

			return agent.Suspend(map[string]any{
				"name":     name,
				"priceEth": formatEther(price),
			}, "sign_renewal_transaction", session.StatusAwaitingSignature), nil
		},
	}
}

// cancelOperation abandons whatever the user has in flight, across every
// conversation, and returns the session to normal chat.
func cancelOperation(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "cancel_operation",
		Description: "Cancel the user's in-flight operation and discard its state.",
		Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		Execute: func(ctx context.Context, _ json.RawMessage, id agent.Identity) (*agent.Result, error) {
			if err := deps.Flows.ClearAllUserFlows(ctx, id.UserID); err != nil {
				return agent.Fail(err), nil
			}
			logger.L().Info("operation cancelled", "user_id", id.UserID)
			return agent.Ok(map[string]any{"cancelled": true}), nil
		},
	}
}
