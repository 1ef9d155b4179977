// Package waiter runs the mandatory commit-reveal waiting period as durable
// delayed jobs. Scheduling writes the job to the queue before anything else,
// so a process restart between commit confirmation and the wait elapsing
// never strands a registration.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"NamePilot/internal/chain"
	"NamePilot/internal/chat"
	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/flow"
	"NamePilot/pkg/logger"
)

const (
	// protocolMinWait is the controller's minimum commitment age.
	protocolMinWait = 60 * time.Second
	// waitMargin pads the wait so the register never lands a second early.
	waitMargin = 5 * time.Second

	defaultPollInterval = 5 * time.Second
	retryDelay          = 10 * time.Second
	maxAttempts         = 5
)

// Job identifies one registration whose wait is running.
type Job struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId"`
	Name           string `json:"name"`
	// CommitAt is the commit confirmation time in Unix milliseconds.
	CommitAt int64 `json:"commitAt"`
	Attempts int   `json:"attempts,omitempty"`
}

// Chain is the slice of the chain client the waiter needs to refresh the
// register gas figure once the wait is over.
type Chain interface {
	EncodeRegister(name string, owner common.Address, durationSeconds int64, secret [32]byte, value *big.Int) (chain.PreparedCall, error)
	EstimateGas(ctx context.Context, from common.Address, call chain.PreparedCall) (*big.Int, error)
}

// Waiter schedules and executes the post-commit wait.
type Waiter struct {
	queue        Queue
	flows        *flow.Repository
	chain        Chain
	surface      chat.Surface
	pollInterval time.Duration
	now          func() time.Time
}

// Option customises a Waiter.
type Option func(*Waiter)

// WithPollInterval overrides how often the queue is swept.
func WithPollInterval(d time.Duration) Option {
	return func(w *Waiter) { w.pollInterval = d }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Waiter) { w.now = now }
}

// New creates a Waiter.
func New(queue Queue, flows *flow.Repository, chainClient Chain, surface chat.Surface, opts ...Option) *Waiter {
	w := &Waiter{
		queue:        queue,
		flows:        flows,
		chain:        chainClient,
		surface:      surface,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Schedule enqueues the wait for a committed registration. The due time is
// the commit confirmation plus the protocol minimum plus a safety margin.
func (w *Waiter) Schedule(ctx context.Context, job Job) error {
	if job.UserID == "" || job.ConversationID == "" || job.Name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "waiter job requires user, conversation and name")
	}
	if job.CommitAt == 0 {
		job.CommitAt = w.now().UnixMilli()
	}
	due := time.UnixMilli(job.CommitAt).Add(protocolMinWait + waitMargin)
	if err := w.queue.Push(ctx, job, due); err != nil {
		return err
	}
	logger.L().Info("commit-reveal wait scheduled",
		"user_id", job.UserID, "name", job.Name, "due_at", due)
	return nil
}

// Run sweeps the queue until the context is cancelled. Restart recovery falls
// out of the design: the first sweep picks up everything that came due while
// the process was down.
func (w *Waiter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	logger.L().Info("waiter started", "poll_interval", w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("waiter stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep claims and handles every due job once.
func (w *Waiter) Sweep(ctx context.Context) {
	jobs, err := w.queue.PopDue(ctx, w.now())
	if err != nil {
		logger.L().Error("waiter queue sweep failed", "error", err)
		return
	}
	for _, job := range jobs {
		if err := w.handle(ctx, job); err != nil {
			w.retry(ctx, job, err)
		}
	}
}

// handle re-validates the flow and, when it is still the registration the job
// was scheduled for, refreshes the register estimate and moves it to ready.
// A missing, replaced or already-advanced flow makes the job a silent no-op.
func (w *Waiter) handle(ctx context.Context, job Job) error {
	f, err := w.flows.GetActiveFlow(ctx, job.UserID, job.ConversationID)
	if err != nil {
		if errors.Is(err, flow.ErrNoActiveFlow) {
			logger.L().Debug("waiter job dropped, flow gone",
				"user_id", job.UserID, "name", job.Name)
			return nil
		}
		return err
	}
	if f.Type != flow.TypeRegistration || f.Status != flow.StatusStep1Complete {
		logger.L().Debug("waiter job dropped, flow moved on",
			"user_id", job.UserID, "name", job.Name, "type", f.Type, "status", f.Status)
		return nil
	}

	var data flow.RegistrationData
	if err := f.DecodeData(&data); err != nil {
		return err
	}
	if data.Name != job.Name {
		logger.L().Debug("waiter job dropped, flow tracks another name",
			"user_id", job.UserID, "scheduled", job.Name, "active", data.Name)
		return nil
	}

	costs := w.refreshEstimate(ctx, data)
	if _, err := w.flows.UpdateFlowData(ctx, job.UserID, job.ConversationID,
		map[string]any{"costs": costs}); err != nil {
		return err
	}
	if _, err := w.flows.UpdateFlowStatus(ctx, job.UserID, job.ConversationID,
		flow.StatusReadyToRegister); err != nil {
		return err
	}

	msg := fmt.Sprintf("The waiting period for %s is over. You can now confirm the final registration transaction.", data.Name)
	if err := w.surface.SendMessage(ctx, job.ChannelID, msg,
		chat.SendOptions{ConversationID: job.ConversationID}); err != nil {
		// The flow already advanced; a failed notification is logged, not retried.
		logger.L().Warn("waiter notification failed", "user_id", job.UserID, "error", err)
	}

	logger.L().Info("registration ready after wait", "user_id", job.UserID, "name", data.Name)
	return nil
}

// refreshEstimate replaces the provisional register gas figure with a live
// one. On estimation failure the provisional figure is kept and stays marked
// as an estimate.
func (w *Waiter) refreshEstimate(ctx context.Context, data flow.RegistrationData) flow.CostBreakdown {
	costs := data.Costs
	owner := common.HexToAddress(data.Commitment.Owner)
	secret := common.HexToHash(data.Commitment.Secret)

	call, err := w.chain.EncodeRegister(data.Name, owner,
		data.Commitment.DurationSeconds, secret, data.Commitment.DomainPrice.Int())
	if err == nil {
		var gas *big.Int
		gas, err = w.chain.EstimateGas(ctx, owner, call)
		if err == nil {
			costs.RegisterGasEstimate = flow.NewBigInt(gas)
			costs.IsRegisterEstimate = false
			return costs
		}
	}
	logger.L().Warn("post-wait gas re-estimate failed, keeping provisional figure",
		"name", data.Name, "error", err)
	return costs
}

func (w *Waiter) retry(ctx context.Context, job Job, cause error) {
	job.Attempts++
	if job.Attempts >= maxAttempts {
		logger.L().Error("waiter job abandoned after retries",
			"user_id", job.UserID, "name", job.Name, "attempts", job.Attempts, "error", cause)
		return
	}
	logger.L().Warn("waiter job failed, rescheduling",
		"user_id", job.UserID, "name", job.Name, "attempt", job.Attempts, "error", cause)
	if err := w.queue.Push(ctx, job, w.now().Add(retryDelay)); err != nil {
		logger.L().Error("waiter job reschedule failed", "user_id", job.UserID, "error", err)
	}
}
