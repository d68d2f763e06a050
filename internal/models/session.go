package models

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Turn is one recorded message. SlotID is nil for terminal and crisis messages.
type Turn struct {
	Role      Role      `json:"role"`
	SlotID    *int      `json:"slotId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

// SlotPtr returns a pointer to a copy of slot.
func SlotPtr(slot int) *int {
	return &slot
}

// Options holds the three options last shown to the participant.
type Options struct {
	A string `json:"A"`
	B string `json:"B"`
	C string `json:"C"`
}

// Empty reports whether no option is set.
func (o Options) Empty() bool {
	return o.A == "" && o.B == "" && o.C == ""
}

// Memory is the derived-fact scratchpad carried across turns.
type Memory struct {
	Issue        string `json:"issue"`
	WhyStressful string `json:"whyStressful"`
	Tried        string `json:"tried"`

	SlotTopic string `json:"slotTopic"`

	LastBotOptions    Options `json:"lastBotOptions"`
	LastBotSuggestion string  `json:"lastBotSuggestion"`

	UserNeed       string `json:"userNeed"`
	UserPreference string `json:"userPreference"`

	AdviceHistory []string `json:"adviceHistory"`
}

// Clone returns a deep copy of m.
func (m Memory) Clone() Memory {
	c := m
	if m.AdviceHistory != nil {
		c.AdviceHistory = append([]string(nil), m.AdviceHistory...)
	}
	return c
}

// Session is the per-conversation state owned by the chat engine.
type Session struct {
	ID          string    `json:"sessionId"`
	ConditionID string    `json:"conditionId"`
	Started     bool      `json:"started"`
	Done        bool      `json:"done"`
	Crisis      bool      `json:"crisis"`
	SlotIndex   int       `json:"slotIndex"`
	History     []Turn    `json:"history"`
	Memory      Memory    `json:"memory"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewSession returns an unstarted session with empty memory.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		History:   []Turn{},
		Memory:    Memory{AdviceHistory: []string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s, so mutations can be discarded on failure.
func (s *Session) Clone() *Session {
	c := *s
	c.History = make([]Turn, len(s.History))
	for i, t := range s.History {
		c.History[i] = t
		if t.SlotID != nil {
			c.History[i].SlotID = SlotPtr(*t.SlotID)
		}
	}
	c.Memory = s.Memory.Clone()
	return &c
}

// AppendTurn records a turn stamped at at, in UTC.
func (s *Session) AppendTurn(at time.Time, role Role, slot *int, text string) {
	s.History = append(s.History, Turn{Role: role, SlotID: slot, Text: text, Timestamp: at.UTC()})
}

// Terminal reports whether no further slot logic may run.
func (s *Session) Terminal() bool {
	return s.Done || s.Crisis
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID          string    `json:"sessionId"`
	ConditionID string    `json:"conditionId"`
	Done        bool      `json:"done"`
	Crisis      bool      `json:"crisis"`
	SlotIndex   int       `json:"slotIndex"`
	Turns       int       `json:"turns"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Summary returns the listing view of s.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:          s.ID,
		ConditionID: s.ConditionID,
		Done:        s.Done,
		Crisis:      s.Crisis,
		SlotIndex:   s.SlotIndex,
		Turns:       len(s.History),
		UpdatedAt:   s.UpdatedAt,
	}
}
