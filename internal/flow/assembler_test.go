package flow

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/SlotChat/internal/classify"
	"github.com/BTreeMap/SlotChat/internal/conditions"
	"github.com/BTreeMap/SlotChat/internal/genai"
	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/sentences"
)

func mustCondition(t *testing.T, id string) *conditions.Condition {
	t.Helper()
	c, err := conditions.Default().Get(id)
	if err != nil {
		t.Fatalf("condition %s: %v", id, err)
	}
	return c
}

func mustSlot(t *testing.T, c *conditions.Condition, id int) *conditions.Slot {
	t.Helper()
	s, ok := c.Slot(id)
	if !ok {
		t.Fatalf("condition %s has no slot %d", c.ID, id)
	}
	return s
}

func sessionWithUserTurn(text string) *models.Session {
	s := models.NewSession("assembler")
	s.AppendTurn(time.Now(), models.RoleAssistant, models.SlotPtr(0), sentences.Greeting)
	s.AppendTurn(time.Now(), models.RoleUser, models.SlotPtr(0), text)
	return s
}

func TestBuildMessages_Layout(t *testing.T) {
	table := conditions.Default()
	c := mustCondition(t, "collaborative_noES")
	slot := mustSlot(t, c, 1)
	user := "My final exam is really stressful"

	msgs := BuildMessages(table.Definitions, c, slot, sessionWithUserTurn(user), Answer{Text: user})
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	for i, m := range msgs[:4] {
		if m.Role != genai.RoleSystem {
			t.Errorf("message %d: expected system role, got %s", i, m.Role)
		}
	}
	if msgs[0].Content != SystemFraming {
		t.Errorf("first message should be the framing, got %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "- type: type1") || !strings.Contains(msgs[1].Content, "- emotionalSupport: false") {
		t.Errorf("definition block missing factors: %q", msgs[1].Content)
	}
	wantSlot := fmt.Sprintf("CURRENT SLOT 1 (%s):\n%s", slot.Name, slot.Instruction)
	if msgs[2].Content != wantSlot {
		t.Errorf("slot block mismatch:\n got %q\nwant %q", msgs[2].Content, wantSlot)
	}
	if !strings.HasPrefix(msgs[3].Content, "User memory:\n") {
		t.Errorf("memory block should come fourth, got %q", msgs[3].Content)
	}

	last := msgs[len(msgs)-1]
	if last.Role != genai.RoleUser {
		t.Errorf("last message should be user, got %s", last.Role)
	}
	if !strings.HasSuffix(last.Content, "Current user message:\n"+user) {
		t.Errorf("last message should end with the current message, got %q", last.Content)
	}
	if !strings.Contains(last.Content, "USER (slot 0): "+user) {
		t.Errorf("recent chat should include the current turn, got %q", last.Content)
	}
}

func TestBuildMessages_Guards(t *testing.T) {
	table := conditions.Default()
	tests := []struct {
		name      string
		condition string
		slot      int
		user      string
		wantCount int
		want      []string
		notWant   []string
	}{
		{
			name:      "positive follow-up may end",
			condition: "collaborative_noES",
			slot:      5,
			user:      "sounds great, thanks",
			wantCount: 6,
			want:      []string{"rule 2a (reject-all)", "classified as purely_positive"},
			notWant:   []string{"rule 1a (the ending sentence)"},
		},
		{
			name:      "option with constraint",
			condition: "collaborative_noES",
			slot:      6,
			user:      "the second one is hard for me",
			wantCount: 7,
			want:      []string{"includes concerns/constraints", "rule 1b (the ending sentence)", "rule 2b (reject-all)"},
		},
		{
			name:      "concern without option",
			condition: "directive_noES_type2",
			slot:      3,
			user:      "looks fine but I am busy",
			wantCount: 7,
			want:      []string{"SLOT 3 STRICT GUARD", "rule 1a (the ending sentence)", "classified as fallback"},
		},
		{
			name:      "reject all keeps the revision branch",
			condition: "collaborative_noES",
			slot:      6,
			user:      "none of these help",
			wantCount: 6,
			want:      []string{"is not purely positive", "rule 1b (the ending sentence)"},
			notWant:   []string{"(reject-all)"},
		},
		{
			name:      "collaborative support policy",
			condition: "collaborative_ES",
			slot:      5,
			user:      "ok",
			wantCount: 7,
			want:      []string{"TYPE3 FOLLOW-UP SERVER POLICY:", sentences.GladEnding, sentences.SorryToHear, sentences.SupportTimeToFigure},
		},
		{
			name:      "directive support policy",
			condition: "directive_ES_type4",
			slot:      4,
			user:      "ok",
			wantCount: 7,
			want:      []string{"TYPE4 FOLLOW-UP SERVER POLICY:", "imperative verb"},
			notWant:   []string{sentences.RevisionSuffix},
		},
		{
			name:      "no guards outside follow-up slots",
			condition: "collaborative_ES",
			slot:      4,
			user:      "but I can't do that",
			wantCount: 5,
			notWant:   []string{"STRICT GUARD", "SERVER POLICY"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCondition(t, tt.condition)
			slot := mustSlot(t, c, tt.slot)
			msgs := BuildMessages(table.Definitions, c, slot, sessionWithUserTurn(tt.user), NewAnswer(c, slot, tt.user))
			if len(msgs) != tt.wantCount {
				t.Fatalf("expected %d messages, got %d", tt.wantCount, len(msgs))
			}
			var system strings.Builder
			for _, m := range msgs[4 : len(msgs)-1] {
				system.WriteString(m.Content)
				system.WriteString("\n")
			}
			for _, w := range tt.want {
				if !strings.Contains(system.String(), w) {
					t.Errorf("guards missing %q:\n%s", w, system.String())
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(system.String(), w) {
					t.Errorf("guards should not contain %q:\n%s", w, system.String())
				}
			}
		})
	}
}

func TestMemoryBlock(t *testing.T) {
	empty := memoryBlock(models.Memory{})
	for _, want := range []string{
		"- Issue: [missing]",
		"User clear need: [none provided].",
		"User constraints/preferences: [none provided].",
		"Last options shown to the user: [none].",
		"Last single suggestion you gave: [none].",
		"No previous suggestions have been given yet.",
	} {
		if !strings.Contains(empty, want) {
			t.Errorf("empty memory block missing %q", want)
		}
	}

	m := models.Memory{
		Issue:          "my exam",
		UserNeed:       "I need something quick",
		LastBotOptions: models.Options{A: "walk", C: "call a friend"},
	}
	for i := 1; i <= 15; i++ {
		m.AdviceHistory = append(m.AdviceHistory, fmt.Sprintf("item%d", i))
	}
	got := memoryBlock(m)
	for _, want := range []string{
		"- Issue: my exam",
		"User clear need (prioritize if your slot rules allow adjustment):\n\"I need something quick\"",
		"- Option A: walk",
		"- Option B: [missing]",
		"1) item4\n",
		"12) item15\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("memory block missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "item3\n") {
		t.Errorf("memory block should keep only the last %d suggestions", NoveltyAdviceItems)
	}
}

func TestRecentChat(t *testing.T) {
	var history []models.Turn
	for i := 0; i < 12; i++ {
		history = append(history, models.Turn{Role: models.RoleUser, SlotID: models.SlotPtr(i), Text: fmt.Sprintf("m%d", i)})
	}
	history = append(history, models.Turn{Role: models.RoleAssistant, Text: "bye"})

	got := recentChat(history, RecentTurns)
	lines := strings.Split(got, "\n")
	if len(lines) != RecentTurns {
		t.Fatalf("expected %d lines, got %d", RecentTurns, len(lines))
	}
	if lines[0] != "USER (slot 3): m3" {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if lines[len(lines)-1] != "ASSISTANT: bye" {
		t.Errorf("unexpected last line %q", lines[len(lines)-1])
	}
}

func TestNewAnswer(t *testing.T) {
	c := mustCondition(t, "collaborative_noES")
	a := NewAnswer(c, mustSlot(t, c, 7), "the second one sounds good but I don't have time")
	if !a.Final || a.Intent != classify.IntentDifficulty {
		t.Errorf("slot 7 answer = %+v, want final difficulty", a)
	}
	a = NewAnswer(c, mustSlot(t, c, 4), "thanks, sounds great")
	if a.Final || a.Intent != classify.IntentFallback {
		t.Errorf("advice slot answer = %+v, want no follow-up intent", a)
	}
}

func TestPostProcess(t *testing.T) {
	closing := "One thing you could try is a ten-minute timer. (This is the end of our conversation.)"
	tests := []struct {
		name      string
		condition string
		slot      int
		user      string
		generated string
		want      string
		vetoed    bool
	}{
		{
			name:      "plain slot is trimmed only",
			condition: "collaborative_noES",
			slot:      4,
			user:      "yes",
			generated: "  One option you could consider is a walk.  ",
			want:      "One option you could consider is a walk.",
		},
		{
			name:      "positive ending kept",
			condition: "collaborative_noES",
			slot:      5,
			user:      "that sounds great, thanks",
			generated: sentences.GoodEnding,
			want:      sentences.GoodEnding,
		},
		{
			name:      "concern vetoes ending",
			condition: "collaborative_noES",
			slot:      5,
			user:      "it looks good but I have no time",
			generated: sentences.GoodEnding,
			want:      mustCondition(t, "collaborative_noES").ConcernFollowup,
			vetoed:    true,
		},
		{
			name:      "concern vetoes prefixed ending",
			condition: "collaborative_noES",
			slot:      5,
			user:      "it is nice but hard to fit in",
			generated: "Great. " + sentences.GoodEnding,
			want:      mustCondition(t, "collaborative_noES").ConcernFollowup,
			vetoed:    true,
		},
		{
			name:      "concern vetoes ending with trailing text",
			condition: "collaborative_noES",
			slot:      6,
			user:      "the second one sounds good but I don't have time",
			generated: "I understand. " + sentences.GoodEnding + " Take care.",
			want:      mustCondition(t, "collaborative_noES").ConcernFollowup,
			vetoed:    true,
		},
		{
			name:      "end marker before the final slot vetoed",
			condition: "collaborative_noES",
			slot:      5,
			user:      "I'm not sure about it",
			generated: closing,
			want:      mustCondition(t, "collaborative_noES").ConcernFollowup,
			vetoed:    true,
		},
		{
			name:      "final slot closing suggestion kept",
			condition: "collaborative_noES",
			slot:      7,
			user:      "I'm not sure about it",
			generated: closing,
			want:      closing,
		},
		{
			name:      "directive concern vetoes ending",
			condition: "directive_noES_type2",
			slot:      3,
			user:      "fine, though it is hard",
			generated: sentences.GoodEnding,
			want:      mustCondition(t, "directive_noES_type2").ConcernFollowup,
			vetoed:    true,
		},
		{
			name:      "support ending kept",
			condition: "collaborative_ES",
			slot:      5,
			user:      "great, thank you",
			generated: sentences.GladEnding,
			want:      sentences.GladEnding,
		},
		{
			name:      "revision reply kept",
			condition: "collaborative_ES",
			slot:      6,
			user:      "none of these help",
			generated: sentences.SorryToHear + " Could you tell me " + sentences.RevisionSuffix,
			want:      sentences.SorryToHear + " Could you tell me " + sentences.RevisionSuffix,
		},
		{
			name:      "generated support replaced",
			condition: "collaborative_ES",
			slot:      5,
			user:      "I'm worried about it",
			generated: "That makes sense. Let's try a short walk first.",
			want:      sentences.SupportWorried + " Let's try a short walk first.",
		},
		{
			name:      "directive support prepended",
			condition: "directive_ES_type4",
			slot:      4,
			user:      "I can't do the first one",
			generated: "Apply the following approach: study for ten minutes.",
			want:      sentences.SupportTimeToFigure + " Apply the following approach: study for ten minutes.",
		},
		{
			name:      "concern veto gets support sentence",
			condition: "directive_ES_type4",
			slot:      3,
			user:      "ok but I am busy",
			generated: sentences.GladEnding,
			want:      sentences.SupportUnderstand + " " + mustCondition(t, "directive_ES_type4").ConcernFollowup,
			vetoed:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCondition(t, tt.condition)
			slot := mustSlot(t, c, tt.slot)
			got, vetoed := PostProcess(c, slot, NewAnswer(c, slot, tt.user), tt.generated)
			if got != tt.want {
				t.Errorf("PostProcess:\n got %q\nwant %q", got, tt.want)
			}
			if vetoed != tt.vetoed {
				t.Errorf("PostProcess vetoed = %v, want %v", vetoed, tt.vetoed)
			}
			if vetoed && sentences.IndicatesEnd(got) {
				t.Errorf("vetoed reply still closes the conversation: %q", got)
			}
		})
	}
}
