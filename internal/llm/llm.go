// Package llm defines the stateless contract to the language model: system
// instructions, tool schemas, and a message window in; text and tool-use
// content blocks plus token usage out.
package llm

import (
	"context"
	"encoding/json"
)

// Role tags a message in the model's context window.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the model's context window.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolSchema advertises one callable tool to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is one model invocation.
type Request struct {
	System   string
	Tools    []ToolSchema
	Messages []Message
}

// BlockType discriminates response content blocks.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// ContentBlock is either free text or a named tool invocation with a JSON
// argument object.
type ContentBlock struct {
	Type BlockType
	Text string

	ToolID    string
	ToolName  string
	ToolInput json.RawMessage
}

// Usage reports token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the model's answer for one turn.
type Response struct {
	Blocks []ContentBlock
	Usage  Usage
}

// ToolUses filters the tool invocation blocks in order.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, block := range r.Blocks {
		if block.Type == BlockToolUse {
			uses = append(uses, block)
		}
	}
	return uses
}

// Text joins the free-text blocks.
func (r *Response) Text() string {
	var text string
	for _, block := range r.Blocks {
		if block.Type == BlockText {
			if text != "" {
				text += "\n"
			}
			text += block.Text
		}
	}
	return text
}

// Client is the model collaborator.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
