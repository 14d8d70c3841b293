package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
)

// Generator produces descriptive alt text for one image from its inline
// payload and the surrounding text context captured at location time.
type Generator interface {
	GenerateAltText(ctx context.Context, img *book.Image, dataURI string) (string, error)
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"
	defaultDetail  = "high"
)

// Options configures a Client. Zero values fall back to the defaults above
// and a 120 second request timeout.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Detail  string
	Timeout time.Duration
}

// Client calls the vision-capable Responses API to describe images.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	detail     string
	httpClient *http.Client
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Detail == "" {
		opts.Detail = defaultDetail
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Client{
		apiKey:  opts.APIKey,
		model:   opts.Model,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		detail:  opts.Detail,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateAltText sends the image and its context to the generation service
// and returns the description, HTML-escaped so it can be embedded in an alt
// attribute as is.
func (c *Client) GenerateAltText(ctx context.Context, img *book.Image, dataURI string) (string, error) {
	reqBody := responsesRequest{
		Model: c.model,
		Input: []inputMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "input_text", Text: BuildPrompt(img)},
				{Type: "input_image", ImageURL: dataURI, Detail: c.detail},
			},
		}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generation api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation api status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp responsesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("generation error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	text := outputText(apiResp)
	if text == "" {
		return "", fmt.Errorf("empty response from generation api")
	}
	return html.EscapeString(text), nil
}

// outputText aggregates the text parts of all message outputs.
func outputText(resp responsesResponse) string {
	var sb strings.Builder
	for _, out := range resp.Output {
		if out.Type != "message" {
			continue
		}
		for _, part := range out.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
