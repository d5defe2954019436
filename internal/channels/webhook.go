package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// WebhookAdapter delivers outbound channel operations via HTTP POST to a
// channel back-end's callback URL with optional HMAC-SHA256 signing.
type WebhookAdapter struct {
	channel models.Channel
	url     string
	secret  string
	client  *http.Client
}

var _ contracts.ChannelAdapter = (*WebhookAdapter)(nil)

// NewWebhookAdapter creates a webhook adapter for one channel. An empty
// secret disables signing.
func NewWebhookAdapter(channel models.Channel, url, secret string, client *http.Client) *WebhookAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookAdapter{channel: channel, url: url, secret: secret, client: client}
}

// webhookPayload is the callback body for every outbound operation.
type webhookPayload struct {
	Op             string             `json:"op"`
	Channel        models.Channel     `json:"channel"`
	ConversationID string             `json:"conversation_id"`
	Text           string             `json:"text,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
	Department     string             `json:"department,omitempty"`
	Media          *models.Attachment `json:"media,omitempty"`
	TemplateID     string             `json:"template_id,omitempty"`
	TemplateVars   map[string]string  `json:"template_vars,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

func (a *WebhookAdapter) SendMessage(ctx context.Context, conversationID, text string) error {
	return a.post(ctx, webhookPayload{Op: "send_message", ConversationID: conversationID, Text: text})
}

func (a *WebhookAdapter) SendTyping(ctx context.Context, conversationID string) error {
	return a.post(ctx, webhookPayload{Op: "typing", ConversationID: conversationID})
}

func (a *WebhookAdapter) EscalateToHuman(ctx context.Context, conversationID, reason string) error {
	return a.post(ctx, webhookPayload{Op: "escalate", ConversationID: conversationID, Reason: reason})
}

func (a *WebhookAdapter) AddTags(ctx context.Context, conversationID string, tags []string) error {
	return a.post(ctx, webhookPayload{Op: "add_tags", ConversationID: conversationID, Tags: tags})
}

func (a *WebhookAdapter) SetDepartment(ctx context.Context, conversationID, department string) error {
	return a.post(ctx, webhookPayload{Op: "set_department", ConversationID: conversationID, Department: department})
}

func (a *WebhookAdapter) SendRichMedia(ctx context.Context, conversationID string, media models.Attachment) error {
	return a.post(ctx, webhookPayload{Op: "rich_media", ConversationID: conversationID, Media: &media})
}

func (a *WebhookAdapter) SendTemplate(ctx context.Context, conversationID, templateID string, vars map[string]string) error {
	return a.post(ctx, webhookPayload{Op: "template", ConversationID: conversationID, TemplateID: templateID, TemplateVars: vars})
}

// post signs and delivers one payload with up to 3 attempts.
func (a *WebhookAdapter) post(ctx context.Context, payload webhookPayload) error {
	payload.Channel = a.channel
	payload.Timestamp = time.Now().UTC()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*2) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Deskwing-Webhook/1.0")
		req.Header.Set("X-Deskwing-Op", payload.Op)
		req.Header.Set("X-Deskwing-Channel", string(a.channel))

		if a.secret != "" {
			mac := hmac.New(sha256.New, []byte(a.secret))
			mac.Write(body)
			sig := hex.EncodeToString(mac.Sum(nil))
			req.Header.Set("X-Deskwing-Signature", "sha256="+sig)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, a.url)
	}
	return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
}
