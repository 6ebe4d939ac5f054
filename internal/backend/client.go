// Package backend is the HTTP client for the conversation service's
// request/response endpoints: the single-shot voice exchange used for the
// first conversational turn, text chat, the greeting, and session teardown.
package backend

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

	"github.com/snehlabs/flowcall/internal/observe"
)

// ErrModeration is wrapped into errors for responses rejected by the
// service's content filter. Moderation rejections are terminal and must
// never be retried.
var ErrModeration = errors.New("backend: response rejected by content filter")

// defaultTimeout covers the slow path: the voice endpoint runs the full
// transcription and synthesis pipeline server-side.
const defaultTimeout = 30 * time.Second

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Primarily used in
// tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithIntensity sets the intensity preference included in request bodies.
// The client never interprets the value.
func WithIntensity(intensity string) Option {
	return func(c *Client) { c.intensity = intensity }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client talks to the backend's HTTP endpoints. Safe for concurrent use.
type Client struct {
	baseURL   string
	intensity string
	hc        *http.Client
	metrics   *observe.Metrics
}

// New creates a client for the backend at baseURL (scheme://host:port,
// no trailing slash).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HistoryEntry is one prior conversation turn included with a request so
// the backend has context without persisting anything client-side.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// VoiceResponse is the backend's answer to a single-shot voice exchange.
type VoiceResponse struct {
	// Transcription is what the backend heard in the submitted audio.
	Transcription string `json:"transcription"`

	// Response is the assistant's reply text.
	Response string `json:"response"`

	// AudioBase64 is the full synthesized reply clip, not streamed.
	AudioBase64 string `json:"audioBase64"`
}

// ChatResponse is the backend's answer to a text message.
type ChatResponse struct {
	Response string `json:"response"`
	Emotion  string `json:"emotion,omitempty"`
}

type voiceRequest struct {
	AudioBase64         string         `json:"audioBase64"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
	Intensity           string         `json:"intensity,omitempty"`
}

type chatRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
	UserName            string         `json:"userName,omitempty"`
	Intensity           string         `json:"intensity,omitempty"`
}

// SendVoice submits a captured utterance to the single-shot voice endpoint
// and returns the transcription, reply text, and reply audio.
func (c *Client) SendVoice(ctx context.Context, audioBase64 string, history []HistoryEntry) (*VoiceResponse, error) {
	start := time.Now()
	defer func() {
		c.metrics.ExchangeDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var out VoiceResponse
	err := c.post(ctx, "/voice", voiceRequest{
		AudioBase64:         audioBase64,
		ConversationHistory: history,
		Intensity:           c.intensity,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendChat submits a text message with conversation context.
func (c *Client) SendChat(ctx context.Context, message, userName string, history []HistoryEntry) (*ChatResponse, error) {
	var out ChatResponse
	err := c.post(ctx, "/chat", chatRequest{
		Message:             message,
		ConversationHistory: history,
		UserName:            userName,
		Intensity:           c.intensity,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Greeting fetches the opening line the assistant speaks when a call
// starts.
func (c *Client) Greeting(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/greeting", nil)
	if err != nil {
		return "", fmt.Errorf("backend: build request: %w", err)
	}
	var out struct {
		Greeting string `json:"greeting"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Greeting, nil
}

// EndSession tells the backend the call is over so it can run its
// post-session analysis. Failures are non-fatal to teardown.
func (c *Client) EndSession(ctx context.Context) error {
	return c.post(ctx, "/session/end", struct{}{}, nil)
}

// Health probes the backend's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	return c.do(req, nil)
}

// post sends body as JSON to path and decodes the response into out when
// out is non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if isModerationBody(string(snippet)) {
			return fmt.Errorf("backend: %s %s: %s: %w", req.Method, req.URL.Path, strings.TrimSpace(string(snippet)), ErrModeration)
		}
		return fmt.Errorf("backend: %s %s: unexpected status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

// isModerationBody reports whether an error body indicates a content-filter
// rejection.
func isModerationBody(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "content_filter") || strings.Contains(lower, "filtered")
}
