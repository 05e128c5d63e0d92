// Package openrouter is the client for the OpenRouter chat completions API,
// both streaming and one-shot. Streaming delivers through callbacks so the
// HTTP layer can relay deltas without buffering the whole answer.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Qwalex/ai-chat/internal/config"
)

const (
	maxErrorBodyBytes = 8 * 1024
	readChunkBytes    = 32 * 1024
)

var ErrMissingAPIKey = errors.New("openrouter api key is not configured")

// Message is one history entry in the upstream payload. Content is either a
// plain string or an array of multimodal parts; the caller decides, the
// client only forwards.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Usage carries the billing totals from the final usage frame of a stream.
// Cost is in USD and stays nil when the upstream omits or mangles it; an
// unknown cost must never read as a zero cost.
type Usage struct {
	PromptTokens     int             `json:"promptTokens"`
	CompletionTokens int             `json:"completionTokens"`
	TotalTokens      int             `json:"totalTokens"`
	Cost             *float64        `json:"cost,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

type Request struct {
	Model    string
	Messages []Message
}

// StatusError reports a non-2xx answer received before any streaming began.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter returned %d: %s", e.StatusCode, e.Message)
}

// StreamError reports an error frame delivered inside an already-open
// stream, after the 200 was committed.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "openrouter stream error: " + e.Message
}

type providerPrefs struct {
	Sort string `json:"sort,omitempty"`
}

type reasoningPrefs struct {
	Enabled bool `json:"enabled"`
}

type chatAPIRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	Stream    bool            `json:"stream,omitempty"`
	Provider  *providerPrefs  `json:"provider,omitempty"`
	Reasoning *reasoningPrefs `json:"reasoning,omitempty"`
}

type streamAPIFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type streamAPIUsage struct {
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	Cost             json.RawMessage `json:"cost"`
}

type completionAPIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Client struct {
	apiKey      string
	baseURL     string
	httpReferer string
	xTitle      string
	idleTimeout time.Duration
	httpClient  *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:      strings.TrimSpace(cfg.OpenRouterAPIKey),
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/"),
		httpReferer: cfg.OpenRouterHTTPReferer,
		xTitle:      cfg.OpenRouterXTitle,
		idleTimeout: cfg.StreamIdleTimeout,
		httpClient:  httpClient,
	}
}

// StreamChatCompletion runs one streaming completion. onStart fires exactly
// once, after the upstream 200 and before the first delta; from that point
// any failure comes back as a *StreamError or transport error, never a
// *StatusError. Unparseable frames are skipped silently, and [DONE] only
// ends its own event block: the stream keeps draining until EOF so a late
// usage frame still lands.
func (c Client) StreamChatCompletion(
	ctx context.Context,
	req Request,
	onStart func() error,
	onDelta func(string) error,
	onUsage func(Usage) error,
) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}

	payload, err := json.Marshal(chatAPIRequest{
		Model:     strings.TrimSpace(req.Model),
		Messages:  req.Messages,
		Stream:    true,
		Provider:  &providerPrefs{Sort: "latency"},
		Reasoning: &reasoningPrefs{Enabled: true},
	})
	if err != nil {
		return fmt.Errorf("marshal openrouter request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build openrouter request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError(resp)
	}

	if onStart != nil {
		if err := onStart(); err != nil {
			return err
		}
	}

	// A stalled upstream must not hold the relay open forever: cancel the
	// request when no bytes arrive for idleTimeout.
	var idle *time.Timer
	if c.idleTimeout > 0 {
		idle = time.AfterFunc(c.idleTimeout, cancel)
		defer idle.Stop()
	}

	var parser sseParser
	buf := make([]byte, readChunkBytes)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(c.idleTimeout)
			}
			for _, data := range parser.feed(buf[:n]) {
				if err := c.handleFrame(data, onDelta, onUsage); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if streamCtx.Err() != nil && ctx.Err() == nil {
				return &StreamError{Message: "upstream stream stalled"}
			}
			return fmt.Errorf("read openrouter stream: %w", readErr)
		}
	}
}

func (c Client) handleFrame(data string, onDelta func(string) error, onUsage func(Usage) error) error {
	if strings.TrimSpace(data) == "[DONE]" {
		return nil
	}

	var frame streamAPIFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return nil
	}

	if frame.Error != nil && strings.TrimSpace(frame.Error.Message) != "" {
		return &StreamError{Message: strings.TrimSpace(frame.Error.Message)}
	}

	if usage := parseUsage(frame.Usage); usage != nil && onUsage != nil {
		if err := onUsage(*usage); err != nil {
			return err
		}
	}

	for _, choice := range frame.Choices {
		if choice.Delta.Content == "" {
			continue
		}
		if onDelta != nil {
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	return nil
}

// Complete runs one non-streaming completion and returns the answer text
// plus the usage block when the provider reported one.
func (c Client) Complete(ctx context.Context, model string, messages []Message) (string, *Usage, error) {
	if c.apiKey == "" {
		return "", nil, ErrMissingAPIKey
	}

	payload, err := json.Marshal(chatAPIRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("build openrouter request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", nil, c.statusError(resp)
	}

	var parsed completionAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, fmt.Errorf("decode openrouter response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", nil, errors.New(parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, errors.New("openrouter returned no choices")
	}
	return parsed.Choices[0].Message.Content, parseUsage(parsed.Usage), nil
}

func parseUsage(raw json.RawMessage) *Usage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var parsed streamAPIUsage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	return &Usage{
		PromptTokens:     parsed.PromptTokens,
		CompletionTokens: parsed.CompletionTokens,
		TotalTokens:      parsed.TotalTokens,
		Cost:             parseOptionalCost(parsed.Cost),
		Raw:              raw,
	}
}

func (c Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.httpReferer != "" {
		req.Header.Set("HTTP-Referer", c.httpReferer)
	}
	if c.xTitle != "" {
		req.Header.Set("X-Title", c.xTitle)
	}
}

// statusError folds a non-2xx body into a StatusError, preferring the
// error.message field of a JSON body over the raw bytes.
func (c Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	message := strings.TrimSpace(string(body))

	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		message = strings.TrimSpace(parsed.Error.Message)
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: message}
}

// parseOptionalCost accepts the usage cost as a JSON number or a numeric
// string and rejects anything non-finite. nil means unknown.
func parseOptionalCost(raw json.RawMessage) *float64 {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(value); err == nil {
		value = unquoted
	}
	cost, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil
	}
	return &cost
}
