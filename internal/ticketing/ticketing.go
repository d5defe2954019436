// Package ticketing integrates with the external ticketing back-end over
// its HTTP API. Ticket writes from the pipeline are best-effort: the
// Orchestrator logs failures and keeps replying.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deskwing/deskwing/pkg/contracts"
	"github.com/deskwing/deskwing/pkg/models"
)

// Client talks to the ticketing API.
type Client struct {
	baseURL string
	auth    map[string]any
	client  *http.Client
}

var _ contracts.Ticketing = (*Client)(nil)

// NewClient creates a ticketing client. Auth config mirrors the webhook
// conventions: type bearer/api_key/basic plus the matching fields.
func NewClient(baseURL string, auth map[string]any, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, auth: auth, client: client}
}

// CreateTicket opens a ticket and returns it with the assigned ID.
func (c *Client) CreateTicket(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	var created models.Ticket
	if err := c.do(ctx, http.MethodPost, "/tickets", ticket, &created); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return &created, nil
}

// UpdateTicket applies a partial update to an existing ticket.
func (c *Client) UpdateTicket(ctx context.Context, ticketID string, update *models.TicketUpdate) error {
	if err := c.do(ctx, http.MethodPatch, "/tickets/"+ticketID, update, nil); err != nil {
		return fmt.Errorf("update ticket %s: %w", ticketID, err)
	}
	return nil
}

// GetTicket fetches one ticket by ID.
func (c *Client) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := c.do(ctx, http.MethodGet, "/tickets/"+ticketID, nil, &ticket); err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", ticketID, err)
	}
	return &ticket, nil
}

// GetTicketByConversation fetches the ticket bound to a conversation,
// (nil, nil) when none exists.
func (c *Client) GetTicketByConversation(ctx context.Context, conversationID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := c.do(ctx, http.MethodGet, "/tickets?conversation_id="+conversationID, nil, &ticket)
	if err != nil {
		if he, ok := err.(*httpError); ok && he.status == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get ticket for conversation %s: %w", conversationID, err)
	}
	return &ticket, nil
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("ticketing HTTP %d: %s", e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, c.auth)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return &httpError{status: resp.StatusCode, body: buf.String()}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// applyAuth adds authentication headers based on the auth config.
func applyAuth(req *http.Request, authConfig map[string]any) {
	if authConfig == nil {
		return
	}
	authType, _ := authConfig["type"].(string)
	switch authType {
	case "bearer":
		if token, ok := authConfig["token"].(string); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case "api_key":
		header, _ := authConfig["header"].(string)
		key, _ := authConfig["key"].(string)
		if header != "" && key != "" {
			req.Header.Set(header, key)
		}
	case "basic":
		user, _ := authConfig["username"].(string)
		pass, _ := authConfig["password"].(string)
		req.SetBasicAuth(user, pass)
	}
}
