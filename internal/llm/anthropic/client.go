// Package anthropic implements the llm.Client contract against the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "NamePilot/internal/errors"
	"NamePilot/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModelName = "claude-sonnet-4-20250514"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
	apiVersion       = "2023-06-01"
)

// Config describes how to call the Anthropic API.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client calls the Messages API over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewClient validates the config and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system,omitempty"`
	Tools     []llm.ToolSchema `json:"tools,omitempty"`
	Messages  []wireMessage    `json:"messages"`
}

type wireBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type wireResponse struct {
	Content []wireBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, wireMessage{Role: string(msg.Role), Content: msg.Content})
	}
	payload, err := json.Marshal(wireRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    req.System,
		Tools:     req.Tools,
		Messages:  messages,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "encode model request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "build model request")
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "model request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeLLMFailure,
			fmt.Sprintf("model API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMParse, err, "decode model response")
	}
	if len(decoded.Content) == 0 {
		return nil, xerrors.New(xerrors.CodeLLMParse, "model response carried no content blocks")
	}

	blocks := make([]llm.ContentBlock, 0, len(decoded.Content))
	for _, block := range decoded.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, llm.ContentBlock{Type: llm.BlockText, Text: block.Text})
		case "tool_use":
			if block.Name == "" {
				return nil, xerrors.New(xerrors.CodeLLMParse, "tool_use block without a tool name")
			}
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			} else if !json.Valid(input) {
				return nil, xerrors.New(xerrors.CodeLLMParse, "tool_use block carried invalid JSON arguments")
			}
			blocks = append(blocks, llm.ContentBlock{
				Type:      llm.BlockToolUse,
				ToolID:    block.ID,
				ToolName:  block.Name,
				ToolInput: input,
			})
		default:
			// Unknown block kinds are skipped rather than failing the turn.
		}
	}

	return &llm.Response{
		Blocks: blocks,
		Usage: llm.Usage{
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
		},
	}, nil
}

var _ llm.Client = (*Client)(nil)
