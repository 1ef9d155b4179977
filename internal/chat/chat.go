// Package chat defines the outbound contract to the chat platform. Sends are
// awaited, but their answers (signatures, form picks) arrive later through a
// separate resume entry point, never as the return value.
package chat

import "context"

// InteractionType discriminates an interaction request payload.
type InteractionType string

const (
	InteractionTransaction InteractionType = "transaction"
	InteractionForm        InteractionType = "form"
)

// FormComponent is one option or field in a form request.
type FormComponent struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Kind    string   `json:"kind"`
	Options []string `json:"options,omitempty"`
}

// InteractionRequest asks the user to sign a transaction or answer a form.
type InteractionRequest struct {
	Type      InteractionType `json:"type"`
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Recipient string          `json:"recipient"`

	// Transaction fields.
	ChainID uint64 `json:"chainId,omitempty"`
	To      string `json:"to,omitempty"`
	Data    string `json:"data,omitempty"`
	Value   string `json:"value,omitempty"`
	Signer  string `json:"signer,omitempty"`

	// Form fields.
	Components []FormComponent `json:"components,omitempty"`
}

// SendOptions carries the conversation threading information.
type SendOptions struct {
	ConversationID string
}

// Surface is the chat platform the agent speaks through.
type Surface interface {
	SendMessage(ctx context.Context, channelID, text string, opts SendOptions) error
	SendInteractionRequest(ctx context.Context, channelID string, req InteractionRequest, opts SendOptions) error
}
