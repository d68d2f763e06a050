package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		user string
		want error
	}{
		{"empty is allowed", "", nil},
		{"normal", "I have exams", nil},
		{"at limit", strings.Repeat("a", MaxUserMessageLength), nil},
		{"over limit", strings.Repeat("a", MaxUserMessageLength+1), ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := (ChatRequest{User: tt.user}).Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession("s1")
	s.AppendTurn(time.Now(), RoleAssistant, SlotPtr(1), "How are you?")
	s.Memory.AdviceHistory = append(s.Memory.AdviceHistory, "walk")

	c := s.Clone()
	*c.History[0].SlotID = 9
	c.History = append(c.History, Turn{Role: RoleUser, Text: "fine"})
	c.Memory.AdviceHistory[0] = "sleep"
	c.Memory.Issue = "exams"

	if *s.History[0].SlotID != 1 || len(s.History) != 1 {
		t.Errorf("history shared with clone: %+v", s.History)
	}
	if s.Memory.AdviceHistory[0] != "walk" || s.Memory.Issue != "" {
		t.Errorf("memory shared with clone: %+v", s.Memory)
	}
}

func TestSessionTerminalAndSummary(t *testing.T) {
	s := NewSession("s1")
	if s.Terminal() {
		t.Error("new session should not be terminal")
	}
	s.ConditionID = "directive_noES_type1"
	s.SlotIndex = 2
	s.AppendTurn(time.Now(), RoleUser, nil, "hi")
	s.Crisis = true
	if !s.Terminal() {
		t.Error("crisis session should be terminal")
	}

	sum := s.Summary()
	if sum.ID != "s1" || sum.ConditionID != "directive_noES_type1" || sum.SlotIndex != 2 || sum.Turns != 1 || !sum.Crisis {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestTurnJSONKeepsNullSlot(t *testing.T) {
	b, err := json.Marshal(Turn{Role: RoleAssistant, Text: "Conversation ended."})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"slotId":null`) {
		t.Errorf("terminal turn should carry a null slot id: %s", b)
	}
}

func TestOptionsEmpty(t *testing.T) {
	if !(Options{}).Empty() {
		t.Error("zero Options should be empty")
	}
	if (Options{B: "take a walk"}).Empty() {
		t.Error("Options with B set should not be empty")
	}
}

func TestAPIResponseEnvelopes(t *testing.T) {
	if r := Success([]string{"a"}); r.Status != "ok" || r.Result == nil {
		t.Errorf("Success = %+v", r)
	}
	r := ErrorWithCode("session_not_found", "no such session")
	if r.Status != "error" || r.Code != "session_not_found" || r.Message != "no such session" {
		t.Errorf("ErrorWithCode = %+v", r)
	}
	if r := Error("boom"); r.Code != "" || r.Message != "boom" {
		t.Errorf("Error = %+v", r)
	}
}
