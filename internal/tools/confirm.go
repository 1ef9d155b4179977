package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"NamePilot/internal/agent"
	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/flow"
	"NamePilot/internal/session"
	"NamePilot/internal/waiter"
	"NamePilot/pkg/logger"
)

type confirmArgs struct {
	TxHash string `json:"tx_hash"`
}

// confirmTransaction records a signed transaction against the active flow and
// advances its state machine. What "advance" means depends on where the flow
// is: a commit starts the waiting period, a register finishes the
// registration, a subdomain step may hand the user the next transaction.
func confirmTransaction(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "confirm_transaction",
		Description: "Record a transaction the user just signed and advance the active operation to its next step.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tx_hash": {"type": "string", "description": "The hash of the signed transaction"}
			},
			"required": ["tx_hash"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, id agent.Identity) (*agent.Result, error) {
			var args confirmArgs
			if err := decodeArgs(raw, &args); err != nil {
				return agent.Fail(err), nil
			}
			if args.TxHash == "" {
				return agent.Fail(xerrors.New(xerrors.CodeInvalidArgument, "tx_hash is required")), nil
			}
			f, err := deps.Flows.GetActiveFlow(ctx, id.UserID, id.ConversationID)
			if err != nil {
				return agent.Fail(err), nil
			}

			switch f.Type {
			case flow.TypeRegistration:
				return confirmRegistrationStep(ctx, deps, id, f, args.TxHash)
			case flow.TypeBridge:
				return confirmBridge(ctx, deps, id, f, args.TxHash)
			case flow.TypeSubdomain:
				return confirmSubdomainStep(ctx, deps, id, f, args.TxHash)
			case flow.TypeTransfer:
				return confirmSingleStep(ctx, deps, id, f, args.TxHash, "transfer")
			case flow.TypeRenewal:
				return confirmSingleStep(ctx, deps, id, f, args.TxHash, "renewal")
			default:
				return agent.Fail(xerrors.New(xerrors.CodeConflict, "unrecognised flow type")), nil
			}
		},
	}
}

func confirmRegistrationStep(ctx context.Context, deps Deps, id agent.Identity, f *flow.Flow, txHash string) (*agent.Result, error) {
	switch f.Status {
	case flow.StatusStep1Pending:
		now := time.Now().UnixMilli()
		if _, err := deps.Flows.UpdateFlowData(ctx, id.UserID, id.ConversationID, map[string]any{
			"commitTxHash":    txHash,
			"commitTimestamp": now,
		}); err != nil {
			return agent.Fail(err), nil
		}
		if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusStep1Complete); err != nil {
			return agent.Fail(err), nil
		}

		var data flow.RegistrationData
		if err := f.DecodeData(&data); err != nil {
			return agent.Fail(err), nil
		}
		if err := deps.Waiter.Schedule(ctx, waiter.Job{
			UserID:         id.UserID,
			ConversationID: id.ConversationID,
			ChannelID:      id.ChannelID,
			Name:           data.Name,
			CommitAt:       now,
		}); err != nil {
			return agent.Fail(err), nil
		}
		return agent.Ok(map[string]any{
			"name":          data.Name,
			"commitTxHash":  txHash,
			"waitingPeriod": "the mandatory waiting period has started; you will be notified when the final transaction is ready",
		}), nil

	case flow.StatusStep2Pending:
		if _, err := deps.Flows.UpdateFlowData(ctx, id.UserID, id.ConversationID, map[string]any{
			"registerTxHash": txHash,
		}); err != nil {
			return agent.Fail(err), nil
		}
		if err := finishFlow(ctx, deps, id, flow.StatusComplete); err != nil {
			return agent.Fail(err), nil
		}
		logger.L().Info("registration complete", "user_id", id.UserID, "tx", txHash)
		return agent.Ok(map[string]any{"registered": true, "txHash": txHash}), nil

	default:
		return agent.Fail(xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("registration is not awaiting a transaction (status %s)", f.Status))), nil
	}
}

func confirmBridge(ctx context.Context, deps Deps, id agent.Identity, f *flow.Flow, txHash string) (*agent.Result, error) {
	if f.Status != flow.StatusAwaitingBridge {
		return agent.Fail(xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("bridge is not awaiting a transaction (status %s)", f.Status))), nil
	}
	var data flow.BridgeData
	if err := f.DecodeData(&data); err != nil {
		return agent.Fail(err), nil
	}
	if _, err := deps.Flows.UpdateFlowData(ctx, id.UserID, id.ConversationID, map[string]any{
		"txHash": txHash,
	}); err != nil {
		return agent.Fail(err), nil
	}
	if err := finishFlow(ctx, deps, id, flow.StatusComplete); err != nil {
		return agent.Fail(err), nil
	}
	result := map[string]any{"bridged": true, "txHash": txHash}
	if data.NextAction != "" {
		// The bridge was a prerequisite; tell the model what to pick up next.
		result["nextAction"] = data.NextAction
	}
	return agent.Ok(result), nil
}

func confirmSubdomainStep(ctx context.Context, deps Deps, id agent.Identity, f *flow.Flow, txHash string) (*agent.Result, error) {
	var data flow.SubdomainData
	if err := f.DecodeData(&data); err != nil {
		return agent.Fail(err), nil
	}
	fullName := data.Label + "." + data.Parent
	data.TxHashes = append(data.TxHashes, txHash)
	data.CurrentStep++

	switch f.Status {
	case flow.StatusStep1Pending:
		if _, err := deps.Flows.UpdateFlowData(ctx, id.UserID, id.ConversationID, map[string]any{
			"txHashes": data.TxHashes, "currentStep": data.CurrentStep,
		}); err != nil {
			return agent.Fail(err), nil
		}
		if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusStep1Complete); err != nil {
			return agent.Fail(err), nil
		}

		// Step 2 always points the new subdomain at its recipient.
		resolved := data.ResolvedAddress
		if resolved == "" {
			resolved = data.Recipient
		}
		addr, err := parseAddress("resolved address", resolved)
		if err != nil {
			return agent.Fail(err), nil
		}
		call, err := deps.Chain.EncodeSetAddr(fullName, addr)
		if err != nil {
			return agent.Fail(err), nil
		}
		if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusStep2Pending); err != nil {
			return agent.Fail(err), nil
		}
		if err := sendTransactionRequest(ctx, deps, id,
			fmt.Sprintf("Set the address for %s (step 2 of %d)", fullName, data.TotalSteps),
			call, data.Wallet); err != nil {
			return agent.Fail(err), nil
		}
		return agent.Suspend(map[string]any{
			"name": fullName, "step": 2, "totalSteps": data.TotalSteps,
		}, "sign_subdomain_step_2", session.StatusAwaitingSignature), nil

	case flow.StatusStep2Pending:
		if _, err := deps.Flows.UpdateFlowData(ctx, id.UserID, id.ConversationID, map[string]any{
			"txHashes": data.TxHashes, "currentStep": data.CurrentStep,
		}); err != nil {
			return agent.Fail(err), nil
		}
		if data.TotalSteps == 2 {
			if err := finishFlow(ctx, deps, id, flow.StatusComplete); err != nil {
				return agent.Fail(err), nil
			}
			return agent.Ok(map[string]any{"created": true, "name": fullName}), nil
		}

		// Three-step path: hand ownership to the recipient.
		wallet, err := parseAddress("wallet", data.Wallet)
		if err != nil {
			return agent.Fail(err), nil
		}
		recipient, err := parseAddress("recipient", data.Recipient)
		if err != nil {
			return agent.Fail(err), nil
		}
		call, err := deps.Chain.EncodeTransfer(fullName, wallet, recipient)
		if err != nil {
			return agent.Fail(err), nil
		}
		if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusStep2Complete); err != nil {
			return agent.Fail(err), nil
		}
		if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusStep3Pending); err != nil {
			return agent.Fail(err), nil
		}
		if err := sendTransactionRequest(ctx, deps, id,
			fmt.Sprintf("Transfer %s to its recipient (step 3 of 3)", fullName),
			call, data.Wallet); err != nil {
			return agent.Fail(err), nil
		}
		return agent.Suspend(map[string]any{
			"name": fullName, "step": 3, "totalSteps": 3,
		}, "sign_subdomain_step_3", session.StatusAwaitingSignature), nil

	case flow.StatusStep3Pending:
		if _, err := deps.Flows.UpdateFlowData(ctx, id.UserID, id.ConversationID, map[string]any{
			"txHashes": data.TxHashes, "currentStep": data.CurrentStep,
		}); err != nil {
			return agent.Fail(err), nil
		}
		if err := finishFlow(ctx, deps, id, flow.StatusComplete); err != nil {
			return agent.Fail(err), nil
		}
		return agent.Ok(map[string]any{"created": true, "name": fullName, "transferred": true}), nil

	default:
		return agent.Fail(xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("subdomain creation is not awaiting a transaction (status %s)", f.Status))), nil
	}
}

func confirmSingleStep(ctx context.Context, deps Deps, id agent.Identity, f *flow.Flow, txHash, kind string) (*agent.Result, error) {
	if f.Status != flow.StatusAwaitingSignature {
		return agent.Fail(xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("%s is not awaiting a transaction (status %s)", kind, f.Status))), nil
	}
	if _, err := deps.Flows.UpdateFlowData(ctx, id.UserID, id.ConversationID, map[string]any{
		"txHash": txHash,
	}); err != nil {
		return agent.Fail(err), nil
	}
	if err := finishFlow(ctx, deps, id, flow.StatusComplete); err != nil {
		return agent.Fail(err), nil
	}
	logger.L().Info(kind+" complete", "user_id", id.UserID, "tx", txHash)
	return agent.Ok(map[string]any{"complete": true, "txHash": txHash}), nil
}
