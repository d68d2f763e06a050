// Package genai is the text generation gateway. It sends a list of role-tagged
// messages to the OpenAI chat completions API and returns the reply text.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the generation gateway.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultTimeout     = 30 * time.Second
)

// ErrNoChoicesReturned is returned when the upstream completion has no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

// GenerationError reports a non-success response from the generation service.
type GenerationError struct {
	Status int
	Body   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: status %d: %s", e.Status, e.Body)
}

// Role tags a message for the generation service.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged message sent to the generation service.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK's completion service to chatService.
type completions struct {
	svc *openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxTokens   int
	DebugDir    string // when set, every call is written there as JSON
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key. OPENAI_API_KEY is used when unset.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxTokens caps the completion length. Zero leaves it to the service.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugDir writes a JSON record of every call into dir.
func WithDebugDir(dir string) Option {
	return func(o *Opts) { o.DebugDir = dir }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	timeout     time.Duration
	maxTokens   int
	debugDir    string
}

// NewClient creates a GenAI client. SDK retries are disabled, so a failed
// call surfaces to the caller within the configured timeout.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Temperature: DefaultTemperature, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI NewClient configured", "model", modelOrDefault(cfg.Model), "temperature", cfg.Temperature, "timeout", cfg.Timeout, "debug", cfg.DebugDir != "")
	return newClient(completions{svc: &cli.Chat.Completions}, cfg), nil
}

func newClient(chat chatService, cfg Opts) *Client {
	return &Client{
		chat:        chat,
		model:       modelOrDefault(cfg.Model),
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		debugDir:    cfg.DebugDir,
	}
}

func modelOrDefault(model string) string {
	if strings.TrimSpace(model) == "" {
		return DefaultModel
	}
	return model
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends messages and returns the trimmed reply text.
// Upstream error responses are returned as *GenerationError.
func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toParams(messages),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			err = &GenerationError{Status: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		slog.Error("GenAI.Generate: completion failed", "model", c.model, "elapsed", time.Since(start), "error", err)
		c.writeDebug(messages, "", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		c.writeDebug(messages, "", ErrNoChoicesReturned)
		return "", ErrNoChoicesReturned
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("GenAI.Generate: completion received", "model", c.model, "elapsed", time.Since(start), "replyLen", len(reply))
	c.writeDebug(messages, reply, nil)
	return reply, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

type debugRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Params      []Message `json:"params"`
	Response    string    `json:"response"`
	Error       string    `json:"error,omitempty"`
}

// writeDebug records one call when a debug directory is configured.
// Failures are logged and never affect the call.
func (c *Client) writeDebug(messages []Message, reply string, callErr error) {
	if c.debugDir == "" {
		return
	}
	rec := debugRecord{
		Timestamp:   time.Now().UTC(),
		Method:      "Generate",
		Model:       c.model,
		Temperature: c.temperature,
		Params:      messages,
		Response:    reply,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebug: marshal failed", "error", err)
		return
	}
	if err := os.MkdirAll(c.debugDir, 0755); err != nil {
		slog.Warn("GenAI.writeDebug: create dir failed", "dir", c.debugDir, "error", err)
		return
	}
	name := fmt.Sprintf("genai_%s.json", rec.Timestamp.Format("20060102T150405.000000000"))
	if err := os.WriteFile(filepath.Join(c.debugDir, name), data, 0644); err != nil {
		slog.Warn("GenAI.writeDebug: write failed", "error", err)
	}
}
