// Package llm talks to the Claude messages API with chart screenshots
// attached as vision blocks and parses the structured trade decision the
// model returns.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.anthropic.com/v1/messages"

// ClientConfig holds LLM client configuration.
type ClientConfig struct {
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
	BaseURL     string        `json:"base_url,omitempty"`
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   2048,
		Temperature: 0.3,
		Timeout:     90 * time.Second,
	}
}

// Client is the Claude API client.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new LLM client.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// IsConfigured checks if the client is properly configured.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// ChartImage is one screenshot attached to an analysis request.
type ChartImage struct {
	Timeframe string
	MediaType string
	Data      []byte
}

// Usage is the token consumption of one API call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// contentBlock is one element of a multimodal message.
type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type visionMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []visionMessage `json:"messages"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one vision request. Images appear before the text prompt,
// each preceded by a label naming its timeframe.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, images []ChartImage) (string, Usage, error) {
	if !c.IsConfigured() {
		return "", Usage{}, fmt.Errorf("LLM API key not configured")
	}

	var blocks []contentBlock
	for _, img := range images {
		mediaType := img.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		if img.Timeframe != "" {
			blocks = append(blocks, contentBlock{
				Type: "text",
				Text: fmt.Sprintf("%s chart:", img.Timeframe),
			})
		}
		blocks = append(blocks, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: userPrompt})

	req := claudeRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      systemPrompt,
		Messages: []visionMessage{
			{Role: "user", Content: blocks},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to read response: %w", err)
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return "", Usage{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if claudeResp.Error != nil {
		return "", Usage{}, fmt.Errorf("API error: %s - %s", claudeResp.Error.Type, claudeResp.Error.Message)
	}
	if len(claudeResp.Content) == 0 {
		return "", Usage{}, fmt.Errorf("empty response from Claude")
	}

	return claudeResp.Content[0].Text, claudeResp.Usage, nil
}
