package genai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
	delay  time.Duration
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return openai.ChatCompletion{}, ctx.Err()
		}
	}
	return m.resp, m.err
}

func reply(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

var testMessages = []Message{
	{Role: RoleSystem, Content: "system prompt"},
	{Role: RoleSystem, Content: "slot instruction"},
	{Role: RoleUser, Content: "user prompt"},
}

func TestGenerate_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("  Hello World \n")}
	client := newClient(mock, Opts{Temperature: DefaultTemperature})

	out, err := client.Generate(context.Background(), testMessages)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if string(mock.params.Model) != DefaultModel {
		t.Errorf("model = %q, want %q", mock.params.Model, DefaultModel)
	}
	if len(mock.params.Messages) != 3 {
		t.Errorf("sent %d messages, want 3", len(mock.params.Messages))
	}
	if got := mock.params.Temperature.Value; got != DefaultTemperature {
		t.Errorf("temperature = %v, want %v", got, DefaultTemperature)
	}
}

func TestGenerate_ServiceError(t *testing.T) {
	client := newClient(&mockChatService{err: errors.New("service failure")}, Opts{})
	_, err := client.Generate(context.Background(), testMessages)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	client := newClient(&mockChatService{resp: openai.ChatCompletion{}}, Opts{})
	_, err := client.Generate(context.Background(), testMessages)
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	mock := &mockChatService{resp: reply("late"), delay: time.Second}
	client := newClient(mock, Opts{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := client.Generate(context.Background(), testMessages)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Generate did not honor its timeout")
	}
}

func TestGenerationErrorMessage(t *testing.T) {
	err := error(&GenerationError{Status: 429, Body: `{"error":"rate limited"}`})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Status != 429 {
		t.Fatalf("errors.As failed for %v", err)
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithTemperature(0.5))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.Model() != "gpt-4o" || cli.temperature != 0.5 {
		t.Errorf("options not applied: model=%q temperature=%v", cli.Model(), cli.temperature)
	}
	if cli.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want default %v", cli.timeout, DefaultTimeout)
	}
}

func TestDebugRecords(t *testing.T) {
	tempDir := t.TempDir()
	debugDir := filepath.Join(tempDir, "debug")
	client := newClient(&mockChatService{resp: reply("Test response")}, Opts{Model: "test-model", DebugDir: debugDir})

	if _, err := client.Generate(context.Background(), testMessages); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	files, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatalf("Failed to read debug directory: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 debug file, got %d", len(files))
	}
	content, err := os.ReadFile(filepath.Join(debugDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}
	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Fatalf("Failed to unmarshal debug log: %v", err)
	}
	for _, field := range []string{"timestamp", "method", "model", "params", "response"} {
		if _, exists := logEntry[field]; !exists {
			t.Errorf("Required field '%s' missing from debug log", field)
		}
	}
	if logEntry["model"] != "test-model" || logEntry["response"] != "Test response" {
		t.Errorf("unexpected debug record: %v", logEntry)
	}
}

func TestDebugRecordsDisabled(t *testing.T) {
	tempDir := t.TempDir()
	client := newClient(&mockChatService{resp: reply("Test response")}, Opts{})
	if _, err := client.Generate(context.Background(), testMessages); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Errorf("debug output written with debug disabled: %v", entries)
	}
}
