// Package models defines the core data structures for SlotChat.
//
// It includes the session, turn and memory records owned by the chat engine,
// the request/response shapes of the HTTP API, and the inbound message type
// shared by the messaging channels.
package models

import "errors"

// Validation errors for chat requests.
var (
	ErrEmptyUserMessage = errors.New("empty user message")
	ErrMessageTooLong   = errors.New("user message exceeds maximum length")
)

// MaxUserMessageLength bounds a single participant message.
const MaxUserMessageLength = 4096

// ChatRequest is the body of POST /chat. SessionID and ConditionID may also be
// supplied as query parameters.
type ChatRequest struct {
	SessionID   string `json:"sessionId,omitempty"`
	User        string `json:"user,omitempty"`
	ConditionID string `json:"conditionId,omitempty"`
}

// Validate checks the request fields that can be checked without session state.
func (r ChatRequest) Validate() error {
	if len(r.User) > MaxUserMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ChatResponse is the reply to one turn. SlotID is nil for terminal replies
// that do not belong to a slot.
type ChatResponse struct {
	Reply       string  `json:"reply"`
	SlotID      *int    `json:"slotId"`
	Done        bool    `json:"done"`
	SessionID   string  `json:"sessionId"`
	ConditionID string  `json:"conditionId"`
	Memory      *Memory `json:"memory,omitempty"`
	Repaired    bool    `json:"repaired,omitempty"`
	Hardcoded   bool    `json:"hardcoded,omitempty"`
}

// HistoryResponse is the body of GET /history/{sessionId}.
type HistoryResponse struct {
	SessionID   string `json:"sessionId"`
	ConditionID string `json:"conditionId"`
	Done        bool   `json:"done"`
	Crisis      bool   `json:"crisis"`
	History     []Turn `json:"history"`
	Memory      Memory `json:"memory"`
}

// DebugInfo is the body of GET /debug.
type DebugInfo struct {
	Version string   `json:"version"`
	Pool    []string `json:"pool"`
}

// Response represents an incoming message from a participant on a messaging channel.
// ID is the channel's message id, used to drop redelivered messages.
type Response struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Code    string      `json:"error,omitempty"`   // machine-readable error code
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ErrorWithCode creates an error API response carrying a machine-readable code.
func ErrorWithCode(code, message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message, Code: code}
}
