// Package messaging connects SlotChat to participant messaging channels.
//
// A Service delivers text to a participant and surfaces inbound messages on
// its Responses channel. ChatRelay turns each inbound message into a chat turn
// and sends the reply back on the same channel.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/SlotChat/internal/models"
)

// Constants for messaging services
const (
	// DefaultChannelBufferSize defines the buffer size of inbound response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message may wait for a reader
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted phone number
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned by SendMessage after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// Name identifies the channel, e.g. "whatsapp" or "twilio".
	Name() string

	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns its canonical form (digits only for phone numbers).
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the Responses channel.
	Stop() error

	// Responses returns a channel of incoming participant messages.
	Responses() <-chan models.Response
}

// canonicalizePhone strips a channel prefix and every non-digit character.
func canonicalizePhone(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	r := recipient
	if i := strings.Index(r, ":"); i >= 0 {
		r = r[i+1:]
	}
	canonical := phoneNumberRegex.ReplaceAllString(r, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}
