package waiter

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"NamePilot/internal/chain"
	"NamePilot/internal/chat"
	"NamePilot/internal/flow"
	"NamePilot/internal/securestore"
)

type fakeChain struct {
	gas       *big.Int
	estimateE error
	calls     int
}

func (c *fakeChain) EncodeRegister(name string, owner common.Address, durationSeconds int64, secret [32]byte, value *big.Int) (chain.PreparedCall, error) {
	return chain.PreparedCall{ChainID: 1, Data: []byte{0x01}, Value: value}, nil
}

func (c *fakeChain) EstimateGas(_ context.Context, _ common.Address, _ chain.PreparedCall) (*big.Int, error) {
	c.calls++
	if c.estimateE != nil {
		return nil, c.estimateE
	}
	return new(big.Int).Set(c.gas), nil
}

type fakeSurface struct {
	mu       sync.Mutex
	messages []string
}

func (s *fakeSurface) SendMessage(_ context.Context, _ string, text string, _ chat.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return nil
}

func (s *fakeSurface) SendInteractionRequest(_ context.Context, _ string, _ chat.InteractionRequest, _ chat.SendOptions) error {
	return nil
}

func (s *fakeSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func newTestRepo(t *testing.T) *flow.Repository {
	t.Helper()
	store := securestore.New(securestore.NewMemoryBackend(), []byte("waiter-test-secret"))
	return flow.NewRepository(store)
}

func seedRegistration(t *testing.T, repo *flow.Repository, status flow.Status) flow.RegistrationData {
	t.Helper()
	data := flow.RegistrationData{
		Name: "vault.eth",
		Commitment: flow.Commitment{
			Secret:          "0x" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff",
			CommitmentHash:  "0xabc",
			Owner:           "0x1111111111111111111111111111111111111111",
			DurationSeconds: 31536000,
			DomainPrice:     flow.BigIntFromInt64(5000000000000000),
		},
		Costs: flow.CostBreakdown{
			DomainPrice:         flow.BigIntFromInt64(5000000000000000),
			CommitGasEstimate:   flow.BigIntFromInt64(90000000000000),
			RegisterGasEstimate: flow.BigIntFromInt64(300000000000000),
			IsRegisterEstimate:  true,
		},
		Wallet:          "0x1111111111111111111111111111111111111111",
		CommitTimestamp: time.Now().UnixMilli(),
	}
	f, err := flow.New("user-1", "conv-1", "chan-1", flow.TypeRegistration, data)
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	f.Status = status
	if err := repo.SetActiveFlow(context.Background(), f); err != nil {
		t.Fatalf("SetActiveFlow: %v", err)
	}
	return data
}

func TestScheduleDueTimeCoversProtocolMinimum(t *testing.T) {
	queue := NewMemoryQueue()
	base := time.Now()
	w := New(queue, newTestRepo(t), &fakeChain{gas: big.NewInt(1)}, &fakeSurface{},
		WithClock(func() time.Time { return base }))

	job := Job{UserID: "user-1", ConversationID: "conv-1", ChannelID: "chan-1", Name: "vault.eth", CommitAt: base.UnixMilli()}
	if err := w.Schedule(context.Background(), job); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Not yet due 60s in: the margin must hold the job back.
	due, err := queue.PopDue(context.Background(), base.Add(60*time.Second))
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatal("job came due before protocol minimum plus margin")
	}
	due, err = queue.PopDue(context.Background(), base.Add(66*time.Second))
	if err != nil {
		t.Fatalf("PopDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due job, got %d", len(due))
	}
}

func TestSweepAdvancesWaitingRegistration(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedRegistration(t, repo, flow.StatusStep1Complete)

	queue := NewMemoryQueue()
	chainClient := &fakeChain{gas: big.NewInt(280000000000000)}
	surface := &fakeSurface{}
	base := time.Now()
	w := New(queue, repo, chainClient, surface, WithClock(func() time.Time { return base }))

	if err := w.Schedule(ctx, Job{
		UserID: "user-1", ConversationID: "conv-1", ChannelID: "chan-1",
		Name: "vault.eth", CommitAt: base.Add(-2 * time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	w.Sweep(ctx)

	f, err := repo.GetActiveFlow(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetActiveFlow: %v", err)
	}
	if f.Status != flow.StatusReadyToRegister {
		t.Fatalf("status = %s, want %s", f.Status, flow.StatusReadyToRegister)
	}
	var data flow.RegistrationData
	if err := f.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if data.Costs.IsRegisterEstimate {
		t.Error("register gas still flagged as provisional after the wait")
	}
	if data.Costs.RegisterGasEstimate.String() != "280000000000000" {
		t.Errorf("register gas = %s, want refreshed figure", data.Costs.RegisterGasEstimate)
	}
	if chainClient.calls != 1 {
		t.Errorf("estimate calls = %d, want 1", chainClient.calls)
	}
	if surface.count() != 1 {
		t.Errorf("notifications = %d, want 1", surface.count())
	}
}

func TestSweepIsNoOpWhenFlowGone(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	queue := NewMemoryQueue()
	surface := &fakeSurface{}
	base := time.Now()
	w := New(queue, repo, &fakeChain{gas: big.NewInt(1)}, surface,
		WithClock(func() time.Time { return base }))

	if err := w.Schedule(ctx, Job{
		UserID: "user-1", ConversationID: "conv-1", ChannelID: "chan-1",
		Name: "vault.eth", CommitAt: base.Add(-2 * time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	w.Sweep(ctx)

	if surface.count() != 0 {
		t.Error("notification sent for a vanished flow")
	}
	if queue.Pending() != 0 {
		t.Error("no-op job was rescheduled")
	}
}

func TestSweepIsNoOpWhenFlowReplaced(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	// The user abandoned the registration and started a transfer instead.
	f, err := flow.New("user-1", "conv-1", "chan-1", flow.TypeTransfer, flow.TransferData{
		Name: "vault.eth", Irreversible: true,
	})
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	if err := repo.SetActiveFlow(ctx, f); err != nil {
		t.Fatalf("SetActiveFlow: %v", err)
	}

	queue := NewMemoryQueue()
	surface := &fakeSurface{}
	base := time.Now()
	w := New(queue, repo, &fakeChain{gas: big.NewInt(1)}, surface,
		WithClock(func() time.Time { return base }))

	if err := w.Schedule(ctx, Job{
		UserID: "user-1", ConversationID: "conv-1", ChannelID: "chan-1",
		Name: "vault.eth", CommitAt: base.Add(-2 * time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	w.Sweep(ctx)

	got, err := repo.GetActiveFlow(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetActiveFlow: %v", err)
	}
	if got.Type != flow.TypeTransfer || got.Status != flow.StatusInitiated {
		t.Fatalf("replacement flow was touched: %s/%s", got.Type, got.Status)
	}
	if surface.count() != 0 {
		t.Error("notification sent for a replaced flow")
	}
}

func TestEstimateFailureKeepsProvisionalButStillAdvances(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedRegistration(t, repo, flow.StatusStep1Complete)

	queue := NewMemoryQueue()
	chainClient := &fakeChain{gas: big.NewInt(1), estimateE: context.DeadlineExceeded}
	surface := &fakeSurface{}
	base := time.Now()
	w := New(queue, repo, chainClient, surface, WithClock(func() time.Time { return base }))

	if err := w.Schedule(ctx, Job{
		UserID: "user-1", ConversationID: "conv-1", ChannelID: "chan-1",
		Name: "vault.eth", CommitAt: base.Add(-2 * time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	w.Sweep(ctx)

	f, err := repo.GetActiveFlow(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetActiveFlow: %v", err)
	}
	if f.Status != flow.StatusReadyToRegister {
		t.Fatalf("status = %s, want %s", f.Status, flow.StatusReadyToRegister)
	}
	var data flow.RegistrationData
	if err := f.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if !data.Costs.IsRegisterEstimate {
		t.Error("provisional flag cleared despite a failed re-estimate")
	}
	if data.Costs.RegisterGasEstimate.String() != "300000000000000" {
		t.Errorf("register gas = %s, want original provisional figure", data.Costs.RegisterGasEstimate)
	}
}
