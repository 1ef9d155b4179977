// Package flow models in-flight multi-step name operations and their
// persistence. A flow is the durable record that lets a conversation resume a
// money-moving operation across independent request/response cycles.
package flow

import (
	"encoding/json"
	"time"

	xerrors "NamePilot/internal/errors"
)

// Type discriminates the operation a flow tracks.
type Type string

const (
	TypeRegistration Type = "registration"
	TypeBridge       Type = "bridge"
	TypeSubdomain    Type = "subdomain"
	TypeTransfer     Type = "transfer"
	TypeRenewal      Type = "renewal"
)

// TTL is how long an untouched flow survives. Every mutation refreshes it.
const TTL = 30 * time.Minute

// Flow is the durable record of one in-flight operation. At most one active
// flow exists per (user, conversation); a new write replaces any existing one.
type Flow struct {
	UserID         string          `json:"userId"`
	ConversationID string          `json:"conversationId"`
	ChannelID      string          `json:"channelId"`
	Type           Type            `json:"type"`
	Status         Status          `json:"status"`
	Data           json.RawMessage `json:"data"`
	StartedAt      int64           `json:"startedAt"`
	UpdatedAt      int64           `json:"updatedAt"`
}

// New creates a flow in the initiated status with its typed payload attached.
func New(userID, conversationID, channelID string, typ Type, data any) (*Flow, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode flow data")
	}
	now := time.Now().UnixMilli()
	return &Flow{
		UserID:         userID,
		ConversationID: conversationID,
		ChannelID:      channelID,
		Type:           typ,
		Status:         StatusInitiated,
		Data:           raw,
		StartedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// DecodeData unmarshals the variant payload into out.
func (f *Flow) DecodeData(out any) error {
	if len(f.Data) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "flow has no data payload")
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode flow data")
	}
	return nil
}

// Commitment holds the commit-reveal parameters for a registration. The Owner
// must equal the wallet that signs the register transaction; a mismatch is a
// fatal user-visible error, never silently corrected.
type Commitment struct {
	Secret          string `json:"secret"`
	CommitmentHash  string `json:"commitmentHash"`
	Owner           string `json:"owner"`
	DurationSeconds int64  `json:"durationSeconds"`
	DomainPrice     BigInt `json:"domainPrice"`
}

// CostBreakdown itemises what a registration will cost. RegisterGasEstimate is
// provisional (IsRegisterEstimate true) until the commit-reveal wait elapses
// and a real post-wait estimate replaces it.
type CostBreakdown struct {
	DomainPrice         BigInt `json:"domainPrice"`
	CommitGasEstimate   BigInt `json:"commitGasEstimate"`
	RegisterGasEstimate BigInt `json:"registerGasEstimate"`
	IsRegisterEstimate  bool   `json:"isRegisterEstimate"`
}

// Total sums price and both gas figures.
func (c CostBreakdown) Total() BigInt {
	return c.DomainPrice.Add(c.CommitGasEstimate).Add(c.RegisterGasEstimate)
}

// RegistrationData is the payload of a registration flow.
type RegistrationData struct {
	Name            string        `json:"name"`
	Commitment      Commitment    `json:"commitment"`
	Costs           CostBreakdown `json:"costs"`
	Wallet          string        `json:"wallet"`
	CommitTxHash    string        `json:"commitTxHash,omitempty"`
	RegisterTxHash  string        `json:"registerTxHash,omitempty"`
	CommitTimestamp int64         `json:"commitTimestamp,omitempty"`
}

// BridgeData is the payload of a bridge flow. NextAction optionally tells the
// orchestrator to chain into another operation once the funds land.
type BridgeData struct {
	SourceChainID uint64 `json:"sourceChainId"`
	DestChainID   uint64 `json:"destChainId"`
	TargetAmount  BigInt `json:"targetAmount"`
	InputAmount   BigInt `json:"inputAmount"`
	QuotedOutput  BigInt `json:"quotedOutput"`
	TxHash        string `json:"txHash,omitempty"`
	NextAction    string `json:"nextAction,omitempty"`
}

// SubdomainData is the payload of a subdomain flow. TotalSteps is 3 when the
// recipient differs from the creating wallet (create as temporary owner, set
// resolved address, transfer ownership) and 2 when they are the same; the
// value is an output of that check, not an input assumption.
type SubdomainData struct {
	Parent          string   `json:"parent"`
	Label           string   `json:"label"`
	Recipient       string   `json:"recipient"`
	Wallet          string   `json:"wallet"`
	ResolvedAddress string   `json:"resolvedAddress,omitempty"`
	TotalSteps      int      `json:"totalSteps"`
	CurrentStep     int      `json:"currentStep"`
	TxHashes        []string `json:"txHashes,omitempty"`
}

// SubdomainSteps computes the step count for a subdomain creation.
func SubdomainSteps(wallet, recipient string) int {
	if wallet == recipient {
		return 2
	}
	return 3
}

// TransferData is the payload of a transfer flow. Transfers are single-step
// and always flagged irreversible to the caller.
type TransferData struct {
	Name         string `json:"name"`
	From         string `json:"from"`
	To           string `json:"to"`
	TxHash       string `json:"txHash,omitempty"`
	Irreversible bool   `json:"irreversible"`
}

// RenewalData is the payload of a renewal flow.
type RenewalData struct {
	Name            string `json:"name"`
	DurationSeconds int64  `json:"durationSeconds"`
	Price           BigInt `json:"price"`
	Wallet          string `json:"wallet"`
	TxHash          string `json:"txHash,omitempty"`
}
