package tools

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"NamePilot/internal/agent"
	"NamePilot/internal/bridge"
	"NamePilot/internal/chain"
	"NamePilot/internal/chat"
	"NamePilot/internal/flow"
	"NamePilot/internal/history"
	"NamePilot/internal/securestore"
	"NamePilot/internal/session"
	"NamePilot/internal/waiter"
)

var (
	testWallet    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testRecipient = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testID        = agent.Identity{UserID: "user-1", ConversationID: "conv-1", ChannelID: "chan-1"}
)

// stubChain answers every chain question from fixed fixtures.
type stubChain struct {
	available bool
	rentPrice *big.Int
	owner     common.Address
	balance   *big.Int
	gas       *big.Int
	feeBps    int64
}

func newStubChain() *stubChain {
	return &stubChain{
		available: true,
		rentPrice: big.NewInt(5000000000000000),
		owner:     testWallet,
		balance:   big.NewInt(1000000000000000000),
		gas:       big.NewInt(90000000000000),
		feeBps:    30,
	}
}

func (s *stubChain) Availability(_ context.Context, name string, _ int64) (chain.Availability, error) {
	return chain.Availability{Name: name, Available: s.available, RentPrice: new(big.Int).Set(s.rentPrice)}, nil
}

func (s *stubChain) Expiry(_ context.Context, _ string) (time.Time, error) {
	return time.Now().Add(200 * 24 * time.Hour), nil
}

func (s *stubChain) Ownership(_ context.Context, name string) (chain.Ownership, error) {
	return chain.Ownership{Name: name, Owner: s.owner}, nil
}

func (s *stubChain) RentPrice(_ context.Context, _ string, _ int64) (*big.Int, error) {
	return new(big.Int).Set(s.rentPrice), nil
}

func (s *stubChain) Balance(_ context.Context, _ uint64, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(s.balance), nil
}

func (s *stubChain) MakeCommitment(_ context.Context, _ string, _ common.Address, _ int64, _ [32]byte) (common.Hash, error) {
	return common.HexToHash("0xc0ffee"), nil
}

func (s *stubChain) EncodeCommit(_ common.Hash) (chain.PreparedCall, error) {
	return chain.PreparedCall{ChainID: 1, Data: []byte{0x01}}, nil
}

func (s *stubChain) EncodeRegister(_ string, _ common.Address, _ int64, _ [32]byte, value *big.Int) (chain.PreparedCall, error) {
	return chain.PreparedCall{ChainID: 1, Data: []byte{0x02}, Value: value}, nil
}

func (s *stubChain) EncodeRenew(_ string, _ int64, value *big.Int) (chain.PreparedCall, error) {
	return chain.PreparedCall{ChainID: 1, Data: []byte{0x03}, Value: value}, nil
}

func (s *stubChain) EncodeCreateSubdomain(_, _ string, _ common.Address) (chain.PreparedCall, error) {
	return chain.PreparedCall{ChainID: 1, Data: []byte{0x04}}, nil
}

func (s *stubChain) EncodeSetAddr(_ string, _ common.Address) (chain.PreparedCall, error) {
	return chain.PreparedCall{ChainID: 1, Data: []byte{0x05}}, nil
}

func (s *stubChain) EncodeTransfer(_ string, _, _ common.Address) (chain.PreparedCall, error) {
	return chain.PreparedCall{ChainID: 1, Data: []byte{0x06}}, nil
}

func (s *stubChain) EstimateGas(_ context.Context, _ common.Address, _ chain.PreparedCall) (*big.Int, error) {
	return new(big.Int).Set(s.gas), nil
}

func (s *stubChain) BridgeQuote(_ context.Context, input *big.Int, src, dst uint64) (chain.BridgeQuote, error) {
	output := new(big.Int).Mul(input, big.NewInt(10000-s.feeBps))
	output.Div(output, big.NewInt(10000))
	return chain.BridgeQuote{SourceChainID: src, DestChainID: dst, Input: new(big.Int).Set(input), Output: output}, nil
}

func (s *stubChain) Close() {}

var _ chain.Client = (*stubChain)(nil)

type recordingSurface struct {
	messages     []string
	interactions []chat.InteractionRequest
}

func (s *recordingSurface) SendMessage(_ context.Context, _ string, text string, _ chat.SendOptions) error {
	s.messages = append(s.messages, text)
	return nil
}

func (s *recordingSurface) SendInteractionRequest(_ context.Context, _ string, req chat.InteractionRequest, _ chat.SendOptions) error {
	s.interactions = append(s.interactions, req)
	return nil
}

type fixture struct {
	deps    Deps
	chain   *stubChain
	surface *recordingSurface
	queue   *waiter.MemoryQueue
	byName  map[string]agent.Tool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := securestore.New(securestore.NewMemoryBackend(), []byte("tools-test-secret"))
	flows := flow.NewRepository(store)
	chainClient := newStubChain()
	surface := &recordingSurface{}
	queue := waiter.NewMemoryQueue()

	deps := Deps{
		Flows:   flows,
		Chain:   chainClient,
		Bridge:  bridge.NewSolver(chainClient, 1000),
		Surface: surface,
		Waiter:  waiter.New(queue, flows, chainClient, surface),
		Archive: history.NewMemoryRepository(),
	}
	byName := map[string]agent.Tool{}
	for _, tool := range All(deps) {
		byName[tool.Name] = tool
	}
	return &fixture{deps: deps, chain: chainClient, surface: surface, queue: queue, byName: byName}
}

func (f *fixture) run(t *testing.T, tool string, args string) *agent.Result {
	t.Helper()
	result, err := f.byName[tool].Execute(context.Background(), json.RawMessage(args), testID)
	if err != nil {
		t.Fatalf("%s: %v", tool, err)
	}
	return result
}

func TestCheckAvailabilityFormatsPrice(t *testing.T) {
	f := newFixture(t)
	result := f.run(t, "check_availability", `{"name": "vault.eth"}`)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	data := result.Data.(map[string]any)
	if data["available"] != true {
		t.Fatalf("data = %+v", data)
	}
	if data["priceEth"] != "0.0050" {
		t.Errorf("priceEth = %v, want four decimal places", data["priceEth"])
	}
}

func TestPrepareRegistrationOpensFlowAndSuspends(t *testing.T) {
	f := newFixture(t)
	result := f.run(t, "prepare_registration",
		`{"name": "vault.eth", "duration_years": 1, "wallet": "`+testWallet.Hex()+`"}`)

	if !result.RequiresUserAction || result.ExpectedAction != "sign_commit_transaction" {
		t.Fatalf("result = %+v", result)
	}
	if result.SuspendStatus != session.StatusAwaitingSignature {
		t.Errorf("suspend status = %s", result.SuspendStatus)
	}

	fl, err := f.deps.Flows.GetActiveFlow(context.Background(), testID.UserID, testID.ConversationID)
	if err != nil {
		t.Fatalf("GetActiveFlow: %v", err)
	}
	if fl.Type != flow.TypeRegistration || fl.Status != flow.StatusStep1Pending {
		t.Fatalf("flow = %s/%s", fl.Type, fl.Status)
	}
	var data flow.RegistrationData
	if err := fl.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if data.Commitment.Owner != testWallet.Hex() {
		t.Errorf("commitment owner = %s, want the signing wallet", data.Commitment.Owner)
	}
	if !data.Costs.IsRegisterEstimate {
		t.Error("register gas should start provisional")
	}
	if !strings.HasPrefix(data.Commitment.Secret, "0x") || len(data.Commitment.Secret) != 66 {
		t.Errorf("secret = %q", data.Commitment.Secret)
	}
	if len(f.surface.interactions) != 1 || f.surface.interactions[0].Type != chat.InteractionTransaction {
		t.Fatalf("interactions = %+v", f.surface.interactions)
	}
}

func TestPrepareRegistrationRefusesSecondOperation(t *testing.T) {
	f := newFixture(t)
	f.run(t, "prepare_registration", `{"name": "vault.eth", "wallet": "`+testWallet.Hex()+`"}`)

	result := f.run(t, "prepare_registration", `{"name": "other.eth", "wallet": "`+testWallet.Hex()+`"}`)
	if result.Success {
		t.Fatal("second operation was allowed while one is in flight")
	}
	if !strings.Contains(result.Error, "already in progress") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestConfirmCommitSchedulesWait(t *testing.T) {
	f := newFixture(t)
	f.run(t, "prepare_registration", `{"name": "vault.eth", "wallet": "`+testWallet.Hex()+`"}`)

	result := f.run(t, "confirm_transaction", `{"tx_hash": "0xfeed"}`)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	fl, _ := f.deps.Flows.GetActiveFlow(context.Background(), testID.UserID, testID.ConversationID)
	if fl.Status != flow.StatusStep1Complete {
		t.Fatalf("status = %s", fl.Status)
	}
	var data flow.RegistrationData
	if err := fl.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if data.CommitTxHash != "0xfeed" || data.CommitTimestamp == 0 {
		t.Errorf("commit fields = %q/%d", data.CommitTxHash, data.CommitTimestamp)
	}
	if f.queue.Pending() != 1 {
		t.Errorf("scheduled jobs = %d, want 1", f.queue.Pending())
	}
}

func TestCompleteRegistrationRequiresReadyStatus(t *testing.T) {
	f := newFixture(t)
	f.run(t, "prepare_registration", `{"name": "vault.eth", "wallet": "`+testWallet.Hex()+`"}`)

	result := f.run(t, "complete_registration", `{}`)
	if result.Success {
		t.Fatal("registration completed before the wait elapsed")
	}
	if !strings.Contains(result.Error, "not ready") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestCompleteRegistrationOwnerMismatchFailsFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.run(t, "prepare_registration", `{"name": "vault.eth", "wallet": "`+testWallet.Hex()+`"}`)

	// Corrupt the wallet so it no longer matches the committed owner.
	if _, err := f.deps.Flows.UpdateFlowData(ctx, testID.UserID, testID.ConversationID,
		map[string]any{"wallet": testRecipient.Hex()}); err != nil {
		t.Fatalf("UpdateFlowData: %v", err)
	}
	for _, status := range []flow.Status{flow.StatusStep1Complete, flow.StatusReadyToRegister} {
		if _, err := f.deps.Flows.UpdateFlowStatus(ctx, testID.UserID, testID.ConversationID, status); err != nil {
			t.Fatalf("UpdateFlowStatus(%s): %v", status, err)
		}
	}

	result := f.run(t, "complete_registration", `{}`)
	if result.Success {
		t.Fatal("mismatched owner was accepted")
	}
	if !strings.Contains(result.Error, "does not match") {
		t.Errorf("error = %q", result.Error)
	}
	fl, _ := f.deps.Flows.GetActiveFlow(ctx, testID.UserID, testID.ConversationID)
	if fl.Status != flow.StatusFailed {
		t.Errorf("flow status = %s, want failed", fl.Status)
	}
}

func TestConfirmRegisterArchivesAndClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.run(t, "prepare_registration", `{"name": "vault.eth", "wallet": "`+testWallet.Hex()+`"}`)
	f.run(t, "confirm_transaction", `{"tx_hash": "0xfeed"}`)
	if _, err := f.deps.Flows.UpdateFlowStatus(ctx, testID.UserID, testID.ConversationID, flow.StatusReadyToRegister); err != nil {
		t.Fatalf("UpdateFlowStatus: %v", err)
	}
	f.run(t, "complete_registration", `{}`)

	result := f.run(t, "confirm_transaction", `{"tx_hash": "0xbeef"}`)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if _, err := f.deps.Flows.GetActiveFlow(ctx, testID.UserID, testID.ConversationID); err == nil {
		t.Error("flow not cleared after completion")
	}
	records, err := f.deps.Archive.ListRecent(ctx, testID.UserID, 5)
	if err != nil || len(records) != 1 {
		t.Fatalf("archive records = %v, %v", records, err)
	}
	if records[0].Name != "vault.eth" || records[0].TxHash != "0xbeef" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestBridgeFundsSolvesAndSuspends(t *testing.T) {
	f := newFixture(t)
	result := f.run(t, "bridge_funds",
		`{"target_amount_wei": "10000000000000000", "source_chain_id": 1, "dest_chain_id": 10, "wallet": "`+testWallet.Hex()+`", "next_action": "register vault.eth"}`)

	if !result.RequiresUserAction || result.ExpectedAction != "sign_bridge_transaction" {
		t.Fatalf("result = %+v", result)
	}
	fl, err := f.deps.Flows.GetActiveFlow(context.Background(), testID.UserID, testID.ConversationID)
	if err != nil {
		t.Fatalf("GetActiveFlow: %v", err)
	}
	if fl.Type != flow.TypeBridge || fl.Status != flow.StatusAwaitingBridge {
		t.Fatalf("flow = %s/%s", fl.Type, fl.Status)
	}
	var data flow.BridgeData
	if err := fl.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	target := big.NewInt(10000000000000000)
	if data.QuotedOutput.Int().Cmp(target) < 0 {
		t.Errorf("quoted output %s is below target %s", data.QuotedOutput, target)
	}
	if data.NextAction != "register vault.eth" {
		t.Errorf("next action = %q", data.NextAction)
	}
}

func TestConfirmBridgeReportsNextAction(t *testing.T) {
	f := newFixture(t)
	f.run(t, "bridge_funds",
		`{"target_amount_wei": "10000000000000000", "source_chain_id": 1, "dest_chain_id": 10, "wallet": "`+testWallet.Hex()+`", "next_action": "register vault.eth"}`)

	result := f.run(t, "confirm_transaction", `{"tx_hash": "0xb41d"}`)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	data := result.Data.(map[string]any)
	if data["nextAction"] != "register vault.eth" {
		t.Errorf("data = %+v", data)
	}
}

func TestCreateSubdomainThreeStepWalk(t *testing.T) {
	f := newFixture(t)
	result := f.run(t, "create_subdomain",
		`{"parent": "vault.eth", "label": "pay", "recipient": "`+testRecipient.Hex()+`", "wallet": "`+testWallet.Hex()+`"}`)
	if !result.RequiresUserAction || result.ExpectedAction != "sign_subdomain_step_1" {
		t.Fatalf("result = %+v", result)
	}

	fl, _ := f.deps.Flows.GetActiveFlow(context.Background(), testID.UserID, testID.ConversationID)
	var data flow.SubdomainData
	if err := fl.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if data.TotalSteps != 3 {
		t.Fatalf("total steps = %d, want 3 for a distinct recipient", data.TotalSteps)
	}

	result = f.run(t, "confirm_transaction", `{"tx_hash": "0x01"}`)
	if result.ExpectedAction != "sign_subdomain_step_2" {
		t.Fatalf("after step 1: %+v", result)
	}
	result = f.run(t, "confirm_transaction", `{"tx_hash": "0x02"}`)
	if result.ExpectedAction != "sign_subdomain_step_3" {
		t.Fatalf("after step 2: %+v", result)
	}
	result = f.run(t, "confirm_transaction", `{"tx_hash": "0x03"}`)
	if !result.Success || result.RequiresUserAction {
		t.Fatalf("after step 3: %+v", result)
	}
	if _, err := f.deps.Flows.GetActiveFlow(context.Background(), testID.UserID, testID.ConversationID); err == nil {
		t.Error("flow not cleared after the final step")
	}
}

func TestCreateSubdomainTwoStepsForSelf(t *testing.T) {
	f := newFixture(t)
	f.run(t, "create_subdomain",
		`{"parent": "vault.eth", "label": "pay", "recipient": "`+testWallet.Hex()+`", "wallet": "`+testWallet.Hex()+`"}`)

	fl, _ := f.deps.Flows.GetActiveFlow(context.Background(), testID.UserID, testID.ConversationID)
	var data flow.SubdomainData
	if err := fl.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if data.TotalSteps != 2 {
		t.Fatalf("total steps = %d, want 2 when the wallet keeps the subdomain", data.TotalSteps)
	}

	f.run(t, "confirm_transaction", `{"tx_hash": "0x01"}`)
	result := f.run(t, "confirm_transaction", `{"tx_hash": "0x02"}`)
	if !result.Success || result.RequiresUserAction {
		t.Fatalf("after step 2: %+v", result)
	}
}

func TestCreateSubdomainRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	f.chain.owner = testRecipient

	result := f.run(t, "create_subdomain",
		`{"parent": "vault.eth", "label": "pay", "recipient": "`+testRecipient.Hex()+`", "wallet": "`+testWallet.Hex()+`"}`)
	if result.Success {
		t.Fatal("non-owner was allowed to create a subdomain")
	}
	if !strings.Contains(result.Error, "owned by") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestTransferNameMarksIrreversible(t *testing.T) {
	f := newFixture(t)
	result := f.run(t, "transfer_name",
		`{"name": "vault.eth", "to": "`+testRecipient.Hex()+`", "wallet": "`+testWallet.Hex()+`"}`)
	if !result.RequiresUserAction {
		t.Fatalf("result = %+v", result)
	}
	data := result.Data.(map[string]any)
	if data["irreversible"] != true {
		t.Error("transfer not flagged irreversible")
	}

	fl, _ := f.deps.Flows.GetActiveFlow(context.Background(), testID.UserID, testID.ConversationID)
	var td flow.TransferData
	if err := fl.DecodeData(&td); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if !td.Irreversible {
		t.Error("flow payload not flagged irreversible")
	}
}

func TestRenewNameCompletes(t *testing.T) {
	f := newFixture(t)
	result := f.run(t, "renew_name",
		`{"name": "vault.eth", "duration_years": 2, "wallet": "`+testWallet.Hex()+`"}`)
	if !result.RequiresUserAction || result.ExpectedAction != "sign_renewal_transaction" {
		t.Fatalf("result = %+v", result)
	}

	result = f.run(t, "confirm_transaction", `{"tx_hash": "0x99"}`)
	if !result.Success {
		t.Fatalf("confirm = %+v", result)
	}
	records, _ := f.deps.Archive.ListRecent(context.Background(), testID.UserID, 5)
	if len(records) != 1 || records[0].FlowType != "renewal" {
		t.Fatalf("archive = %+v", records)
	}
}

func TestCancelOperationClearsEverything(t *testing.T) {
	f := newFixture(t)
	f.run(t, "prepare_registration", `{"name": "vault.eth", "wallet": "`+testWallet.Hex()+`"}`)

	result := f.run(t, "cancel_operation", `{}`)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	busy, err := f.deps.Flows.HasAnyActiveFlow(context.Background(), testID.UserID)
	if err != nil {
		t.Fatalf("HasAnyActiveFlow: %v", err)
	}
	if busy {
		t.Error("flows survived cancellation")
	}
}
