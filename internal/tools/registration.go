package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"NamePilot/internal/agent"
	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/flow"
	"NamePilot/internal/session"
	"NamePilot/pkg/logger"
)

type checkAvailabilityArgs struct {
	Name          string `json:"name"`
	DurationYears int64  `json:"duration_years"`
}

func checkAvailability(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "check_availability",
		Description: "Check whether an ENS name is available and what it costs per registration period.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "The ENS name, e.g. vault.eth"},
				"duration_years": {"type": "integer", "description": "Registration length in years, default 1"}
			},
			"required": ["name"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, _ agent.Identity) (*agent.Result, error) {
			var args checkAvailabilityArgs
			if err := decodeArgs(raw, &args); err != nil {
				return agent.Fail(err), nil
			}
			name, err := normaliseName(args.Name)
			if err != nil {
				return agent.Fail(err), nil
			}
			avail, err := deps.Chain.Availability(ctx, name, yearsToSeconds(args.DurationYears))
			if err != nil {
				return agent.Fail(err), nil
			}
			data := map[string]any{
				"name":      avail.Name,
				"available": avail.Available,
			}
			if avail.Available && avail.RentPrice != nil {
				data["priceWei"] = avail.RentPrice.String()
				data["priceEth"] = formatEther(avail.RentPrice)
			}
			return agent.Ok(data), nil
		},
	}
}

type nameInfoArgs struct {
	Name string `json:"name"`
}

func nameInfo(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "get_name_info",
		Description: "Look up the current owner and expiry date of a registered ENS name.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"}
			},
			"required": ["name"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, _ agent.Identity) (*agent.Result, error) {
			var args nameInfoArgs
			if err := decodeArgs(raw, &args); err != nil {
				return agent.Fail(err), nil
			}
			name, err := normaliseName(args.Name)
			if err != nil {
				return agent.Fail(err), nil
			}
			ownership, err := deps.Chain.Ownership(ctx, name)
			if err != nil {
				return agent.Fail(err), nil
			}
			expiry, err := deps.Chain.Expiry(ctx, name)
			if err != nil {
				return agent.Fail(err), nil
			}
			return agent.Ok(map[string]any{
				"name":    name,
				"owner":   ownership.Owner.Hex(),
				"wrapped": ownership.Wrapped,
				"expiry":  expiry.UTC().Format(time.RFC3339),
			}), nil
		},
	}
}

type prepareRegistrationArgs struct {
	Name          string `json:"name"`
	DurationYears int64  `json:"duration_years"`
	Wallet        string `json:"wallet"`
}

// prepareRegistration starts the commit-reveal sequence: it builds the
// commitment, prices the registration, opens the flow and hands the commit
// transaction to the user. The commitment owner is always the signing wallet.
func prepareRegistration(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "prepare_registration",
		Description: "Start registering an available ENS name: compute the commitment and costs, then hand the user the commit transaction to sign.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"duration_years": {"type": "integer", "description": "Registration length in years, default 1"},
				"wallet": {"type": "string", "description": "The user's wallet address, which will own the name"}
			},
			"required": ["name", "wallet"]
		}`),
		Execute: func(ctx context.Context, raw json.RawMessage, id agent.Identity) (*agent.Result, error) {
			var args prepareRegistrationArgs
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
			avail, err := deps.Chain.Availability(ctx, name, duration)
			if err != nil {
				return agent.Fail(err), nil
			}
			if !avail.Available {
				return agent.Fail(xerrors.New(xerrors.CodeConflict, name+" is not available")), nil
			}

			secretHex, secret, err := newSecret()
			if err != nil {
				return nil, err
			}
			commitment, err := deps.Chain.MakeCommitment(ctx, name, wallet, duration, secret)
			if err != nil {
				return agent.Fail(err), nil
			}
			commitCall, err := deps.Chain.EncodeCommit(commitment)
			if err != nil {
				return agent.Fail(err), nil
			}
			commitGas, err := deps.Chain.EstimateGas(ctx, wallet, commitCall)
			if err != nil {
				return agent.Fail(err), nil
			}

			costs := flow.CostBreakdown{
				DomainPrice:       flow.NewBigInt(avail.RentPrice),
				CommitGasEstimate: flow.NewBigInt(commitGas),
			}
			registerCall, err := deps.Chain.EncodeRegister(name, wallet, duration, secret, avail.RentPrice)
			if err == nil {
				if gas, estErr := deps.Chain.EstimateGas(ctx, wallet, registerCall); estErr == nil {
					costs.RegisterGasEstimate = flow.NewBigInt(gas)
				}
			}
			if costs.RegisterGasEstimate.IsZero() {
				// The register reverts until the commitment matures, so a
				// provisional figure stands in until the wait elapses.
				costs.RegisterGasEstimate = flow.NewBigInt(new(big.Int).Mul(commitGas, big.NewInt(3)))
			}
			costs.IsRegisterEstimate = true

			f, err := flow.New(id.UserID, id.ConversationID, id.ChannelID, flow.TypeRegistration, flow.RegistrationData{
				Name: name,
				Commitment: flow.Commitment{
					Secret:          secretHex,
					CommitmentHash:  commitment.Hex(),
					Owner:           wallet.Hex(),
					DurationSeconds: duration,
					DomainPrice:     flow.NewBigInt(avail.RentPrice),
				},
				Costs:  costs,
				Wallet: wallet.Hex(),
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
				fmt.Sprintf("Commit to registering %s", name), commitCall, wallet.Hex()); err != nil {
				return agent.Fail(err), nil
			}

			logger.L().Info("registration prepared", "user_id", id.UserID, "name", name)
			return agent.Suspend(map[string]any{
				"name":                name,
				"domainPriceEth":      formatEther(avail.RentPrice),
				"commitGasEth":        formatEther(commitGas),
				"totalEstimatedEth":   formatEther(costs.Total().Int()),
				"registerProvisional": true,
			}, "sign_commit_transaction", session.StatusAwaitingSignature), nil
		},
	}
}

// completeRegistration sends the final register transaction once the waiting
// period has elapsed. The commitment owner must still equal the signing
// wallet; a mismatch fails the flow rather than silently re-owning the name.
func completeRegistration(deps Deps) agent.Tool {
	return agent.Tool{
		Name:        "complete_registration",
		Description: "Send the final register transaction for a registration whose waiting period has elapsed.",
		Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		Execute: func(ctx context.Context, _ json.RawMessage, id agent.Identity) (*agent.Result, error) {
			f, err := deps.Flows.GetActiveFlow(ctx, id.UserID, id.ConversationID)
			if err != nil {
				return agent.Fail(err), nil
			}
			if f.Type != flow.TypeRegistration {
				return agent.Fail(xerrors.New(xerrors.CodeConflict, "the active operation is not a registration")), nil
			}
			if f.Status != flow.StatusReadyToRegister {
				return agent.Fail(xerrors.New(xerrors.CodeConflict,
					fmt.Sprintf("registration is not ready yet (status %s)", f.Status))), nil
			}

			var data flow.RegistrationData
			if err := f.DecodeData(&data); err != nil {
				return agent.Fail(err), nil
			}
			if data.Commitment.Owner != data.Wallet {
				if _, failErr := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusFailed); failErr != nil {
					logger.L().Error("failed to fail mismatched registration", "error", failErr)
				}
				return agent.Fail(xerrors.New(xerrors.CodeOwnerMismatch,
					"the commitment owner does not match the signing wallet; the registration cannot proceed")), nil
			}

			wallet, err := parseAddress("wallet", data.Wallet)
			if err != nil {
				return agent.Fail(err), nil
			}
			registerCall, err := deps.Chain.EncodeRegister(data.Name, wallet,
				data.Commitment.DurationSeconds, secretFromHex(data.Commitment.Secret),
				data.Commitment.DomainPrice.Int())
			if err != nil {
				return agent.Fail(err), nil
			}

			if _, err := deps.Flows.UpdateFlowStatus(ctx, id.UserID, id.ConversationID, flow.StatusStep2Pending); err != nil {
				return agent.Fail(err), nil
			}
			if err := sendTransactionRequest(ctx, deps, id,
				fmt.Sprintf("Register %s", data.Name), registerCall, wallet.Hex()); err != nil {
				return agent.Fail(err), nil
			}

			return agent.Suspend(map[string]any{
				"name":           data.Name,
				"domainPriceEth": formatEther(data.Commitment.DomainPrice.Int()),
			}, "sign_register_transaction", session.StatusAwaitingSignature), nil
		},
	}
}
