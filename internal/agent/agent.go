// Package agent runs the tool-calling turn loop. One Run call handles one
// inbound user message end to end: the model is consulted, tools execute, and
// the loop either completes, suspends on a user action, or gives up at the
// turn ceiling. Resume feeds a user's out-of-band answer back into the same
// loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"NamePilot/internal/chat"
	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/flow"
	"NamePilot/internal/history"
	"NamePilot/internal/keylock"
	"NamePilot/internal/llm"
	"NamePilot/internal/observability/alerting"
	"NamePilot/internal/observability/metrics"
	"NamePilot/internal/session"
	"NamePilot/pkg/logger"
)

const (
	defaultMaxTurns      = 25
	defaultMessageWindow = 10
	// Default per-million-token prices used for cost accounting.
	defaultCostPerMInput  = 3.0
	defaultCostPerMOutput = 15.0
)

// OutcomeKind classifies how a turn ended.
type OutcomeKind string

const (
	OutcomeComplete  OutcomeKind = "complete"
	OutcomeSuspended OutcomeKind = "suspended"
	OutcomeMaxTurns  OutcomeKind = "max_turns"
	OutcomeError     OutcomeKind = "error"
)

// Outcome is the result of one Run or Resume call.
type Outcome struct {
	Kind  OutcomeKind
	Reply string
	// ExpectedAction is set when Kind is OutcomeSuspended.
	ExpectedAction string
	Turns          int
	CostUSD        float64
}

// ActionOutcome is the user's answer to a pending interaction: a signed
// transaction hash, form values, or a refusal.
type ActionOutcome struct {
	Action     string
	Approved   bool
	TxHash     string
	FormValues map[string]string
}

// Agent wires the model, the tool registry and the conversational state into
// the turn loop. All collaborators are injected; the zero value is unusable.
type Agent struct {
	llm      llm.Client
	registry *Registry
	sessions *session.Store
	flows    *flow.Repository
	surface  chat.Surface
	archive  history.Repository
	alerts   alerting.Dispatcher
	locks    *keylock.KeyLock

	systemPrompt   string
	maxTurns       int
	messageWindow  int
	costPerMInput  float64
	costPerMOutput float64
}

// Option customises an Agent.
type Option func(*Agent)

// WithMaxTurns overrides the turn ceiling.
func WithMaxTurns(n int) Option {
	return func(a *Agent) { a.maxTurns = n }
}

// WithMessageWindow overrides how many recent messages feed the model.
func WithMessageWindow(n int) Option {
	return func(a *Agent) { a.messageWindow = n }
}

// WithSystemPrompt overrides the base system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithCostRates overrides the per-million-token prices.
func WithCostRates(input, output float64) Option {
	return func(a *Agent) {
		a.costPerMInput = input
		a.costPerMOutput = output
	}
}

// WithHistory attaches the operation archive used to enrich the prompt.
func WithHistory(archive history.Repository) Option {
	return func(a *Agent) { a.archive = archive }
}

// WithAlerts attaches a dispatcher notified when a turn fails.
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) { a.alerts = dispatcher }
}

// New builds an Agent.
func New(client llm.Client, registry *Registry, sessions *session.Store, flows *flow.Repository, surface chat.Surface, opts ...Option) *Agent {
	a := &Agent{
		llm:            client,
		registry:       registry,
		sessions:       sessions,
		flows:          flows,
		surface:        surface,
		locks:          keylock.New(),
		systemPrompt:   defaultSystemPrompt,
		maxTurns:       defaultMaxTurns,
		messageWindow:  defaultMessageWindow,
		costPerMInput:  defaultCostPerMInput,
		costPerMOutput: defaultCostPerMOutput,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run handles one inbound user message. The conversation key is locked for
// the whole turn so concurrent messages for the same conversation serialise.
func (a *Agent) Run(ctx context.Context, id Identity, message string) (*Outcome, error) {
	if strings.TrimSpace(message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message is empty, please send some text")
	}

	key := lockKey(id)
	a.locks.Lock(key)
	defer a.locks.Unlock(key)

	sess, err := a.sessions.LoadOrCreate(ctx, id.UserID, id.ConversationID, id.ChannelID)
	if err != nil {
		return nil, err
	}
	sess.Append(session.RoleUser, message)
	return a.loop(ctx, id, sess)
}

// Resume feeds a pending interaction's answer back into the loop. The answer
// becomes a synthetic user message so the model narrates the next step
// itself.
func (a *Agent) Resume(ctx context.Context, id Identity, action ActionOutcome) (*Outcome, error) {
	key := lockKey(id)
	a.locks.Lock(key)
	defer a.locks.Unlock(key)

	sess, err := a.sessions.Get(ctx, id.UserID, id.ConversationID)
	if err != nil {
		return nil, err
	}
	if sess.PendingToolCall == nil {
		return nil, xerrors.New(xerrors.CodeConflict, "no pending action for this conversation")
	}
	pending := *sess.PendingToolCall

	// The pending marker must still point at a live flow. If the flow
	// expired or was replaced the answer is stale; fail closed rather than
	// act on it.
	if _, err := a.flows.GetActiveFlow(ctx, id.UserID, id.ConversationID); err != nil {
		if errors.Is(err, flow.ErrNoActiveFlow) {
			sess.PendingToolCall = nil
			sess.Status = session.StatusActive
			if saveErr := a.sessions.Save(ctx, sess); saveErr != nil {
				return nil, saveErr
			}
			return nil, xerrors.New(xerrors.CodeFlowNotFound,
				"the operation this action belonged to is no longer active")
		}
		return nil, err
	}

	metrics.ObserveResume()
	sess.PendingToolCall = nil
	sess.Status = session.StatusActive
	sess.Append(session.RoleUser, synthesiseActionMessage(pending, action))
	return a.loop(ctx, id, sess)
}

// loop is the shared turn loop. The session is saved on every exit path.
func (a *Agent) loop(ctx context.Context, id Identity, sess *session.Session) (*Outcome, error) {
	started := time.Now()
	outcome := &Outcome{}

	for turn := 0; turn < a.maxTurns; turn++ {
		outcome.Turns++
		sess.TurnCount++

		resp, err := a.llm.Complete(ctx, llm.Request{
			System:   a.buildSystemPrompt(ctx, id),
			Tools:    a.registry.Schemas(),
			Messages: toModelMessages(sess.Window(a.messageWindow)),
		})
		if err != nil {
			metrics.ObserveLLMError()
			return a.fail(ctx, sess, outcome, started, err)
		}
		outcome.CostUSD += a.cost(resp.Usage)
		sess.EstimatedCost += a.cost(resp.Usage)

		// Any narration is delivered before tools run, so the user sees
		// what is about to happen rather than silence.
		if text := resp.Text(); text != "" {
			sess.Append(session.RoleAssistant, text)
			outcome.Reply = text
			if err := a.surface.SendMessage(ctx, id.ChannelID, text,
				chat.SendOptions{ConversationID: id.ConversationID}); err != nil {
				logger.L().Warn("narration delivery failed", "user_id", id.UserID, "error", err)
			}
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			// A completed turn abandons any suspension still recorded on
			// the session; a late answer must not hit whatever flow is
			// current by then.
			sess.PendingToolCall = nil
			sess.Status = session.StatusActive
			if err := a.sessions.Save(ctx, sess); err != nil {
				return nil, err
			}
			outcome.Kind = OutcomeComplete
			metrics.ObserveTurn(string(OutcomeComplete), time.Since(started))
			return outcome, nil
		}

		for _, use := range uses {
			result := a.execute(ctx, id, use)
			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(`{"success":false,"error":"tool result not serialisable"}`)
			}
			sess.Append(session.RoleToolResult,
				fmt.Sprintf("[%s] %s", use.ToolName, payload))

			if result.RequiresUserAction {
				sess.PendingToolCall = &session.PendingToolCall{
					ToolName:       use.ToolName,
					ToolID:         use.ToolID,
					ExpectedAction: result.ExpectedAction,
				}
				sess.Status = result.SuspendStatus
				if err := a.sessions.Save(ctx, sess); err != nil {
					return nil, err
				}
				outcome.Kind = OutcomeSuspended
				outcome.ExpectedAction = result.ExpectedAction
				metrics.ObserveSuspend()
				metrics.ObserveTurn(string(OutcomeSuspended), time.Since(started))
				return outcome, nil
			}
		}
	}

	err := xerrors.New(xerrors.CodeMaxTurnsExceeded,
		fmt.Sprintf("turn ceiling of %d reached without completion", a.maxTurns))
	return a.fail(ctx, sess, outcome, started, err)
}

// execute runs one tool use. Unknown tools and tool failures come back as
// failed results for the model to react to; they never abort the turn.
func (a *Agent) execute(ctx context.Context, id Identity, use llm.ContentBlock) *Result {
	tool, ok := a.registry.Get(use.ToolName)
	if !ok {
		metrics.ObserveToolExecution(use.ToolName, false)
		return Fail(xerrors.New(xerrors.CodeNotFound, "unknown tool: "+use.ToolName))
	}
	result, err := tool.Execute(ctx, use.ToolInput, id)
	if err != nil {
		logger.L().Warn("tool execution failed",
			"tool", use.ToolName, "user_id", id.UserID, "error", err)
		metrics.ObserveToolExecution(use.ToolName, false)
		return Fail(err)
	}
	if result == nil {
		result = Fail(xerrors.New(xerrors.CodeUnknown, "tool returned no result"))
	}
	metrics.ObserveToolExecution(use.ToolName, result.Success)
	return result
}

func (a *Agent) fail(ctx context.Context, sess *session.Session, outcome *Outcome, started time.Time, cause error) (*Outcome, error) {
	sess.Status = session.StatusError
	if err := a.sessions.Save(ctx, sess); err != nil {
		logger.L().Error("session save failed during error handling", "error", err)
	}
	if xerrors.CodeOf(cause) == xerrors.CodeMaxTurnsExceeded {
		outcome.Kind = OutcomeMaxTurns
	} else {
		outcome.Kind = OutcomeError
	}
	if a.alerts != nil && xerrors.SeverityOf(cause) != xerrors.SeverityInfo {
		if err := a.alerts.Notify(ctx, alerting.FromError(cause, sess.UserID, "")); err != nil {
			logger.L().Error("alert dispatch failed", "error", err)
		}
	}
	metrics.ObserveTurn(string(outcome.Kind), time.Since(started))
	return outcome, cause
}

func (a *Agent) cost(usage llm.Usage) float64 {
	return float64(usage.InputTokens)/1e6*a.costPerMInput +
		float64(usage.OutputTokens)/1e6*a.costPerMOutput
}

func (a *Agent) buildSystemPrompt(ctx context.Context, id Identity) string {
	prompt := a.systemPrompt
	if a.archive == nil {
		return prompt
	}
	records, err := a.archive.ListRecent(ctx, id.UserID, 5)
	if err != nil || len(records) == 0 {
		return prompt
	}
	var builder strings.Builder
	builder.WriteString(prompt)
	builder.WriteString("\n\nRecent operations for this user:\n")
	for _, record := range records {
		builder.WriteString(fmt.Sprintf("- %s %s (%s)\n", record.FlowType, record.Name, record.Status))
	}
	return builder.String()
}

func toModelMessages(msgs []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		role := llm.RoleUser
		if msg.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: msg.Content})
	}
	return out
}

func synthesiseActionMessage(pending session.PendingToolCall, action ActionOutcome) string {
	name := pending.ExpectedAction
	if name == "" {
		name = pending.ToolName
	}
	if !action.Approved {
		return fmt.Sprintf("I declined the %s request.", name)
	}
	if action.TxHash != "" {
		return fmt.Sprintf("I approved the %s request. Transaction hash: %s.", name, action.TxHash)
	}
	if len(action.FormValues) > 0 {
		pairs := make([]string, 0, len(action.FormValues))
		for k, v := range action.FormValues {
			pairs = append(pairs, k+"="+v)
		}
		sort.Strings(pairs)
		return fmt.Sprintf("I submitted the %s form: %s.", name, strings.Join(pairs, ", "))
	}
	return fmt.Sprintf("I approved the %s request.", name)
}

func lockKey(id Identity) string {
	return id.UserID + ":" + id.ConversationID
}

const defaultSystemPrompt = `You are NamePilot, an assistant that helps users register, renew, transfer and manage ENS names, create subdomains, and bridge funds between chains. Use the provided tools for every on-chain fact and action; never invent prices, availability or transaction results. Confirm costs with the user before any transaction. Exactly one operation can be in flight per user at a time.`
