package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig holds the chat-completions endpoint configuration.
type ClientConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultClientConfig returns the default LLM call parameters.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:    "https://api.openai.com/v1/chat/completions",
		Temperature: 0.3,
		MaxTokens:   2000,
		Timeout:     60 * time.Second,
	}
}

// Client is an OpenAI-compatible chat-completions client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new chat-completions client.
func NewClient(config ClientConfig) *Client {
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens < 2000 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// IsConfigured checks whether the client can reach a model.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != "" && c.config.Model != ""
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends a completion request and returns the model's text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := chatRequest{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if chat.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", chat.Error.Type, chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return chat.Choices[0].Message.Content, nil
}
