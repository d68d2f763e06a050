package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppChannel is the channel name of WhatsAppService.
const WhatsAppChannel = "whatsapp"

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // set when client is a live connection
	responses chan models.Response

	mu        sync.RWMutex
	stopped   bool
	handlerID uint32
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with live client")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

func (s *WhatsAppService) Name() string { return WhatsAppChannel }

func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start subscribes to inbound message events of the live client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event subscription")
		return nil
	}
	id := s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	s.mu.Lock()
	s.handlerID = id
	s.mu.Unlock()
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop unsubscribes from events, disconnects and closes the responses channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
		s.waClient.Disconnect()
	}
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a text message to a canonical phone number.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// Responses returns a channel of incoming participant messages.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// responseFromEvent extracts a participant text message from a whatsmeow
// event. Own messages, group messages and non-text messages are skipped.
func responseFromEvent(evt *events.Message) (models.Response, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.Response{}, false
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return models.Response{}, false
	}
	return models.Response{
		ID:   string(evt.Info.ID),
		From: evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	}, true
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	resp, ok := responseFromEvent(evt)
	if !ok {
		slog.Debug("WhatsAppService ignoring message event", "from", evt.Info.Sender.String())
		return
	}
	s.emitResponse(resp)
}

// emitResponse holds the read lock while sending so Stop cannot close the
// channel underneath it.
func (s *WhatsAppService) emitResponse(resp models.Response) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound message (service stopped)", "from", resp.From)
		return
	}
	select {
	case s.responses <- resp:
		slog.Debug("WhatsAppService incoming message forwarded", "from", resp.From, "body_length", len(resp.Body))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", resp.From, "timeout", DefaultChannelTimeout)
	}
}
