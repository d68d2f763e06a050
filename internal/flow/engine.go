// Package flow runs the slot state machine that drives a SlotChat conversation.
//
// Each call to Engine.Advance consumes one participant message, walks the
// session's condition one slot forward (or answers in place for crisis,
// end intent and clarification requests), and commits the session only when
// the whole turn succeeded.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/BTreeMap/SlotChat/internal/classify"
	"github.com/BTreeMap/SlotChat/internal/conditions"
	"github.com/BTreeMap/SlotChat/internal/genai"
	"github.com/BTreeMap/SlotChat/internal/memory"
	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/sentences"
	"github.com/BTreeMap/SlotChat/internal/store"
)

// Errors returned by Advance.
var (
	ErrEmptyInput             = errors.New("empty user input")
	ErrMissingSessionID       = errors.New("session id is required")
	ErrGenerationFailed       = errors.New("text generation failed")
	ErrInvalidStoredCondition = errors.New("stored condition is not in the condition table")
)

// Generator produces a reply from role-tagged messages.
type Generator interface {
	Generate(ctx context.Context, messages []genai.Message) (string, error)
}

// TurnRequest is one participant message addressed to a session.
type TurnRequest struct {
	SessionID   string
	User        string
	ConditionID string
}

// TurnResult is the engine's answer to one TurnRequest.
type TurnResult struct {
	Reply       string
	SlotID      *int
	Done        bool
	SessionID   string
	ConditionID string
	Memory      *models.Memory
	Repaired    bool
	Hardcoded   bool
	// Greeting is set when this turn started the session. The participant's
	// text was not consumed.
	Greeting bool
}

// Response converts r to the HTTP response shape.
func (r TurnResult) Response() models.ChatResponse {
	return models.ChatResponse{
		Reply:       r.Reply,
		SlotID:      r.SlotID,
		Done:        r.Done,
		SessionID:   r.SessionID,
		ConditionID: r.ConditionID,
		Memory:      r.Memory,
		Repaired:    r.Repaired,
		Hardcoded:   r.Hardcoded,
	}
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Store     store.SessionStore
	Table     *conditions.Table
	Generator Generator
	IntN      func(n int) int
	Now       func() time.Time
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithStore sets the session store. An in-memory store is used by default.
func WithStore(s store.SessionStore) Option {
	return func(o *Opts) { o.Store = s }
}

// WithTable sets the condition table. The embedded table is used by default.
func WithTable(t *conditions.Table) Option {
	return func(o *Opts) { o.Table = t }
}

// WithGenerator sets the text generator. It is required.
func WithGenerator(g Generator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithRand sets the source used for condition assignment and support
// sentence choice. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(o *Opts) { o.IntN = intn }
}

// WithClock overrides time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine advances chat sessions one participant message at a time.
type Engine struct {
	store store.SessionStore
	table *conditions.Table
	gen   Generator
	intn  func(n int) int
	now   func() time.Time
	locks *KeyedMutex
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) (*Engine, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("flow: generator is required")
	}
	if cfg.Store == nil {
		cfg.Store = store.NewInMemoryStore()
	}
	if cfg.Table == nil {
		cfg.Table = conditions.Default()
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store: cfg.Store,
		table: cfg.Table,
		gen:   cfg.Generator,
		intn:  cfg.IntN,
		now:   cfg.Now,
		locks: NewKeyedMutex(),
	}, nil
}

// Table returns the engine's condition table.
func (e *Engine) Table() *conditions.Table {
	return e.table
}

// Session returns a copy of the stored session.
func (e *Engine) Session(ctx context.Context, id string) (*models.Session, error) {
	return e.store.Get(ctx, id)
}

// Turns returns the stored turn log of a session.
func (e *Engine) Turns(ctx context.Context, id string) ([]models.Turn, error) {
	return e.store.Turns(ctx, id)
}

// Sessions lists every stored session.
func (e *Engine) Sessions(ctx context.Context) ([]models.SessionSummary, error) {
	return e.store.List(ctx)
}

// Advance processes one participant message. Turns for the same session are
// serialized; the session is committed only if the turn succeeds.
func (e *Engine) Advance(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.SessionID == "" {
		return TurnResult{}, ErrMissingSessionID
	}
	unlock := e.locks.Lock(req.SessionID)
	defer unlock()

	stored, err := e.store.Get(ctx, req.SessionID)
	created := false
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		stored = models.NewSession(req.SessionID)
		stored.CreatedAt = e.now()
		stored.UpdatedAt = stored.CreatedAt
		created = true
	case err != nil:
		return TurnResult{}, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}

	work := stored.Clone()
	cond, err := e.resolveCondition(work, req.ConditionID)
	if err != nil {
		return TurnResult{}, err
	}

	res, changed, err := e.step(ctx, work, cond, strings.TrimSpace(req.User))
	if err != nil {
		return TurnResult{}, err
	}
	res.SessionID = work.ID
	res.ConditionID = work.ConditionID

	if created || changed {
		work.UpdatedAt = e.now()
		if created {
			err = e.store.Create(ctx, work)
		} else {
			err = e.store.Update(ctx, work)
		}
		if err != nil {
			return TurnResult{}, fmt.Errorf("save session %s: %w", work.ID, err)
		}
	}
	slog.Debug("Engine.Advance: turn complete", "sessionID", work.ID, "condition", work.ConditionID,
		"slotIndex", work.SlotIndex, "done", res.Done, "userLen", len(req.User))
	return res, nil
}

// resolveCondition assigns a condition to a new session or looks up the
// stored one. The first assignment wins.
func (e *Engine) resolveCondition(s *models.Session, requested string) (*conditions.Condition, error) {
	requested = strings.TrimSpace(requested)
	if s.ConditionID == "" {
		if requested != "" {
			c, err := e.table.Get(requested)
			if err != nil {
				return nil, err
			}
			s.ConditionID = c.ID
			return c, nil
		}
		c := e.table.Pick(e.intn)
		s.ConditionID = c.ID
		slog.Info("Engine: condition assigned", "sessionID", s.ID, "condition", c.ID)
		return c, nil
	}

	c, err := e.table.Get(s.ConditionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStoredCondition, err)
	}
	if requested != "" && requested != s.ConditionID {
		slog.Warn("Engine: ignoring condition change for existing session", "sessionID", s.ID, "stored", s.ConditionID, "requested", requested)
	}
	return c, nil
}

// step runs the slot state machine on s. changed reports whether s was modified.
func (e *Engine) step(ctx context.Context, s *models.Session, c *conditions.Condition, text string) (res TurnResult, changed bool, err error) {
	if s.Terminal() {
		reply := sentences.ConversationEnded
		if s.Crisis {
			reply = sentences.Crisis
		}
		return TurnResult{Reply: reply, Done: true}, false, nil
	}

	if !s.Started {
		first, _ := c.SlotAt(0)
		s.Started = true
		s.SlotIndex = 0
		s.AppendTurn(e.now(), models.RoleAssistant, models.SlotPtr(first.ID), first.FixedText)
		return TurnResult{Reply: first.FixedText, SlotID: models.SlotPtr(first.ID), Greeting: true}, true, nil
	}

	if text == "" {
		return TurnResult{}, false, ErrEmptyInput
	}

	if classify.Crisis(text) {
		s.Crisis = true
		s.Done = true
		s.AppendTurn(e.now(), models.RoleUser, nil, text)
		s.AppendTurn(e.now(), models.RoleAssistant, nil, sentences.Crisis)
		slog.Warn("Engine: crisis language detected; conversation closed", "sessionID", s.ID)
		return TurnResult{Reply: sentences.Crisis, Done: true}, true, nil
	}

	prev, ok := c.SlotAt(s.SlotIndex)
	if !ok {
		s.Done = true
		s.AppendTurn(e.now(), models.RoleUser, nil, text)
		s.AppendTurn(e.now(), models.RoleAssistant, nil, sentences.ConversationEnded)
		return TurnResult{Reply: sentences.ConversationEnded, Done: true}, true, nil
	}

	if prev.EndGated() && classify.EndIntent(text) {
		s.Done = true
		s.AppendTurn(e.now(), models.RoleUser, models.SlotPtr(prev.ID), text)
		s.AppendTurn(e.now(), models.RoleAssistant, nil, sentences.EndOfConversation)
		slog.Info("Engine: participant ended the conversation", "sessionID", s.ID, "slot", prev.ID)
		return TurnResult{Reply: sentences.EndOfConversation, Done: true}, true, nil
	}

	if c.RepairAllowed(prev.ID) && classify.Clarification(text) {
		repair := c.Clarification(prev.ID)
		s.AppendTurn(e.now(), models.RoleUser, models.SlotPtr(prev.ID), text)
		s.AppendTurn(e.now(), models.RoleAssistant, models.SlotPtr(prev.ID), repair)
		return TurnResult{Reply: repair, SlotID: models.SlotPtr(prev.ID), Repaired: true}, true, nil
	}

	s.AppendTurn(e.now(), models.RoleUser, models.SlotPtr(prev.ID), text)
	memory.ApplyUserTurn(&s.Memory, prev.ID, text)
	s.SlotIndex++

	cur, ok := c.SlotAt(s.SlotIndex)
	if !ok {
		s.Done = true
		s.AppendTurn(e.now(), models.RoleAssistant, nil, sentences.ConversationEnded)
		return TurnResult{Reply: sentences.ConversationEnded, Done: true}, true, nil
	}

	if cur.Templated || cur.FixedText != "" {
		reply := cur.FixedText
		if cur.Templated {
			reply = e.solutionsQuestion(c, s, text)
		}
		s.AppendTurn(e.now(), models.RoleAssistant, models.SlotPtr(cur.ID), reply)
		return e.slotResult(s, cur, reply, true), true, nil
	}

	answer := NewAnswer(c, cur, text)
	msgs := BuildMessages(e.table.Definitions, c, cur, s, answer)
	generated, err := e.gen.Generate(ctx, msgs)
	if err != nil {
		slog.Error("Engine: generation failed; session not committed", "sessionID", s.ID, "slot", cur.ID, "error", err)
		return TurnResult{}, false, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	reply, vetoed := PostProcess(c, cur, answer, generated)
	if vetoed {
		slog.Info("Engine: ending vetoed for a follow-up answer", "sessionID", s.ID, "slot", cur.ID, "intent", answer.Intent.String())
	}
	memory.ApplyBotTurn(&s.Memory, cur.ID, reply)
	s.AppendTurn(e.now(), models.RoleAssistant, models.SlotPtr(cur.ID), reply)
	if !vetoed && sentences.IndicatesEnd(reply) {
		s.Done = true
	}
	return e.slotResult(s, cur, reply, false), true, nil
}

func (e *Engine) slotResult(s *models.Session, slot *conditions.Slot, reply string, hardcoded bool) TurnResult {
	mem := s.Memory.Clone()
	return TurnResult{
		Reply:     reply,
		SlotID:    models.SlotPtr(slot.ID),
		Done:      s.Done,
		Memory:    &mem,
		Hardcoded: hardcoded,
	}
}

// solutionsQuestion renders the templated solutions question, led by one
// support sentence in emotional-support conditions.
func (e *Engine) solutionsQuestion(c *conditions.Condition, s *models.Session, userText string) string {
	q := fmt.Sprintf("What solutions have you considered or tried so far to deal with %s?", memory.SolutionsTopic(s.Memory.SlotTopic))
	if !c.Factors.EmotionalSupport {
		return q
	}
	bank := classify.SolutionsTone(userText).Bank()
	if len(bank) == 0 {
		return q
	}
	return bank[e.intn(len(bank))] + " " + q
}
