package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/deskwing/deskwing/pkg/models"
)

// Built-in provider drivers. Each speaks the provider's native HTTP API
// over a shared client and maps the result into the normalized
// GenerateResponse.

const defaultMaxTokens = 2048

// ── OpenAI / Azure OpenAI ───────────────────────────────────

type openAIDriver struct {
	kind   string // "openai" or "azure-openai"
	client *http.Client
}

type openAIRequest struct {
	Model     string               `json:"model"`
	Messages  []models.ChatMessage `json:"messages"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (d *openAIDriver) Kind() string { return d.kind }

func (d *openAIDriver) Call(ctx context.Context, provider *models.Provider, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	apiKey, _ := provider.Config["api_key"].(string)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: api_key not configured for provider %s", d.kind, provider.Name)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	body, _ := json.Marshal(openAIRequest{Model: provider.Model, Messages: req.Messages, MaxTokens: maxTokens})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", d.kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Azure OpenAI uses a different auth header
	if d.kind == "azure-openai" {
		httpReq.Header.Set("api-key", apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", d.kind, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("%s: status %d: %s", d.kind, httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", d.kind, err)
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}

	return &models.GenerateResponse{
		Model:   provider.Model,
		Content: content,
		Usage: models.TokenUsage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:  oaiResp.Usage.TotalTokens,
		},
	}, nil
}

// HealthCheck sends a minimal 1-token completion to validate credentials.
func (d *openAIDriver) HealthCheck(ctx context.Context, provider *models.Provider) error {
	probe := &models.GenerateRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: "Say OK"}},
		MaxTokens: 1,
	}
	_, err := d.Call(ctx, provider, probe)
	return err
}

// ── Anthropic ───────────────────────────────────────────────

type anthropicDriver struct {
	client *http.Client
}

type anthropicRequest struct {
	Model     string               `json:"model"`
	Messages  []models.ChatMessage `json:"messages"`
	System    string               `json:"system,omitempty"`
	MaxTokens int                  `json:"max_tokens"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (d *anthropicDriver) Kind() string { return "anthropic" }

func (d *anthropicDriver) Call(ctx context.Context, provider *models.Provider, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}

	apiKey, _ := provider.Config["api_key"].(string)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api_key not configured for provider %s", provider.Name)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	if mt, ok := provider.Config["max_tokens"].(float64); ok {
		maxTokens = int(mt)
	}

	// The Messages API takes the system prompt out of band.
	system := ""
	messages := make([]models.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, m)
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:     provider.Model,
		Messages:  messages,
		System:    system,
		MaxTokens: maxTokens,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	content := ""
	for _, c := range anthResp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	return &models.GenerateResponse{
		Model:   provider.Model,
		Content: content,
		Usage: models.TokenUsage{
			InputTokens:  anthResp.Usage.InputTokens,
			OutputTokens: anthResp.Usage.OutputTokens,
			TotalTokens:  anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
		},
	}, nil
}

// HealthCheck sends a minimal 1-token message to validate credentials.
func (d *anthropicDriver) HealthCheck(ctx context.Context, provider *models.Provider) error {
	probe := &models.GenerateRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: "Say OK"}},
		MaxTokens: 1,
	}
	_, err := d.Call(ctx, provider, probe)
	return err
}

// ── Ollama ──────────────────────────────────────────────────

type ollamaDriver struct {
	client *http.Client
}

func (d *ollamaDriver) Kind() string { return "ollama" }

func (d *ollamaDriver) Call(ctx context.Context, provider *models.Provider, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	body, _ := json.Marshal(openAIRequest{Model: provider.Model, Messages: req.Messages})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("ollama: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}

	return &models.GenerateResponse{
		Model:   provider.Model,
		Content: content,
		Usage: models.TokenUsage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:  oaiResp.Usage.TotalTokens,
		},
	}, nil
}

// HealthCheck verifies the daemon is running by listing local models.
func (d *ollamaDriver) HealthCheck(ctx context.Context, provider *models.Provider) error {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(body))
	}

	var tagsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	return nil
}
