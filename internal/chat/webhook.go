package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xerrors "NamePilot/internal/errors"
)

// WebhookSurface delivers outbound messages to the chat platform's webhook
// endpoint.
type WebhookSurface struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSurface builds a surface posting to url.
func NewWebhookSurface(url string, timeout time.Duration) (*WebhookSurface, error) {
	if url == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chat webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSurface{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type webhookEnvelope struct {
	Kind           string              `json:"kind"`
	ChannelID      string              `json:"channelId"`
	ConversationID string              `json:"conversationId,omitempty"`
	Text           string              `json:"text,omitempty"`
	Interaction    *InteractionRequest `json:"interaction,omitempty"`
}

func (s *WebhookSurface) SendMessage(ctx context.Context, channelID, text string, opts SendOptions) error {
	return s.post(ctx, webhookEnvelope{
		Kind:           "message",
		ChannelID:      channelID,
		ConversationID: opts.ConversationID,
		Text:           text,
	})
}

func (s *WebhookSurface) SendInteractionRequest(ctx context.Context, channelID string, req InteractionRequest, opts SendOptions) error {
	return s.post(ctx, webhookEnvelope{
		Kind:           "interaction",
		ChannelID:      channelID,
		ConversationID: opts.ConversationID,
		Interaction:    &req,
	})
}

func (s *WebhookSurface) post(ctx context.Context, envelope webhookEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode chat payload")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "deliver chat payload")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return xerrors.New(xerrors.CodeUnknown,
			fmt.Sprintf("chat webhook returned status %d", resp.StatusCode))
	}
	return nil
}

var _ Surface = (*WebhookSurface)(nil)
