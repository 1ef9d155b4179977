package agent

import (
	"context"
	"encoding/json"
	"sort"

	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/llm"
	"NamePilot/internal/session"
)

// Identity names the (user, conversation, channel) a turn runs for.
type Identity struct {
	UserID         string
	ConversationID string
	ChannelID      string
}

// Result is what a tool hands back to the loop. The model sees the JSON
// encoding; DisplayMessage, when set, has already been shown to the user by
// the tool itself.
type Result struct {
	Success        bool   `json:"success"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	DisplayMessage string `json:"displayMessage,omitempty"`

	// RequiresUserAction suspends the loop: the tool has handed the user
	// something to sign or pick, and the answer arrives via the resume
	// entry point.
	RequiresUserAction bool           `json:"-"`
	ExpectedAction     string         `json:"-"`
	SuspendStatus      session.Status `json:"-"`
}

// Ok builds a successful Result carrying data.
func Ok(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a failed Result from a coded error. The error text goes back to
// the model so it can explain the problem; it never aborts the turn.
func Fail(err error) *Result {
	return &Result{Success: false, Error: err.Error()}
}

// Suspend builds a Result that pauses the loop until the user acts.
func Suspend(data any, expectedAction string, status session.Status) *Result {
	if status == "" {
		status = session.StatusAwaitingConfirmation
	}
	return &Result{
		Success:            true,
		Data:               data,
		RequiresUserAction: true,
		ExpectedAction:     expectedAction,
		SuspendStatus:      status,
	}
}

// Tool is one capability the model can invoke. Args arrive as the raw JSON
// the model produced; each tool decodes them into its own typed struct.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Execute     func(ctx context.Context, args json.RawMessage, id Identity) (*Result, error)
}

// Registry holds the tools exposed to the model.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry over the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" || tool.Execute == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool requires a name and an execute function")
	}
	if _, exists := r.tools[tool.Name]; exists {
		return xerrors.New(xerrors.CodeConflict, "tool already registered: "+tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Schemas renders the registry for the model request, in registration order.
func (r *Registry) Schemas() []llm.ToolSchema {
	names := append([]string(nil), r.order...)
	if len(names) == 0 {
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		schema := tool.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return schemas
}
