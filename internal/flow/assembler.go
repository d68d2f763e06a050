package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/SlotChat/internal/classify"
	"github.com/BTreeMap/SlotChat/internal/conditions"
	"github.com/BTreeMap/SlotChat/internal/genai"
	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/sentences"
)

// SystemFraming is the first message of every generation request.
const SystemFraming = "You are an experimental chatbot for a research study. You MUST follow the current slot instruction strictly and output exactly what it requires. Do not add extra sentences."

// Limits on how much history reaches the generator.
const (
	RecentTurns        = 10
	NoveltyAdviceItems = 12
)

// Answer is the participant's message together with what the server decided
// about it before generation.
type Answer struct {
	Text string
	// Intent is the follow-up branch the message selects. It is only
	// meaningful when the answered-into slot is a follow-up slot.
	Intent classify.Intent
	// Final is set when no slot follows the one being generated.
	Final bool
}

// NewAnswer classifies text as the answer that leads into slot.
func NewAnswer(c *conditions.Condition, slot *conditions.Slot, text string) Answer {
	a := Answer{Text: text, Final: c.Order[len(c.Order)-1] == slot.ID}
	if slot.Kind == conditions.KindFollowup {
		a.Intent = classify.Followup(text)
	}
	return a
}

// BuildMessages assembles the generation request for slot. The session
// history must already contain the participant's current message.
func BuildMessages(defs conditions.Definitions, c *conditions.Condition, slot *conditions.Slot, s *models.Session, a Answer) []genai.Message {
	msgs := []genai.Message{
		{Role: genai.RoleSystem, Content: SystemFraming},
		{Role: genai.RoleSystem, Content: definitionBlock(defs, c)},
		{Role: genai.RoleSystem, Content: fmt.Sprintf("CURRENT SLOT %d (%s):\n%s", slot.ID, slot.Name, slot.Instruction)},
		{Role: genai.RoleSystem, Content: memoryBlock(s.Memory)},
	}
	for _, g := range guards(c, slot, a) {
		msgs = append(msgs, genai.Message{Role: genai.RoleSystem, Content: g})
	}
	msgs = append(msgs, genai.Message{
		Role:    genai.RoleUser,
		Content: fmt.Sprintf("Recent chat:\n%s\n\nCurrent user message:\n%s", recentChat(s.History, RecentTurns), a.Text),
	})
	return msgs
}

func definitionBlock(defs conditions.Definitions, c *conditions.Condition) string {
	var b strings.Builder
	b.WriteString("Definitions (placeholders):\n")
	fmt.Fprintf(&b, "- Collaborative: %s\n", defs.Collaborative)
	fmt.Fprintf(&b, "- Directive: %s\n", defs.Directive)
	fmt.Fprintf(&b, "- Emotional support: %s\n", defs.EmotionalSupport)
	fmt.Fprintf(&b, "- No emotional support: %s\n", defs.NoEmotionalSupport)
	b.WriteString("\nCurrent bot factors:\n")
	fmt.Fprintf(&b, "- type: %s\n", c.Factors.Type)
	fmt.Fprintf(&b, "- style: %s\n", c.Factors.Style)
	fmt.Fprintf(&b, "- emotionalSupport: %t\n", c.Factors.EmotionalSupport)
	return b.String()
}

func orMissing(s string) string {
	if s == "" {
		return "[missing]"
	}
	return s
}

func memoryBlock(m models.Memory) string {
	var b strings.Builder
	b.WriteString("User memory:\n")
	fmt.Fprintf(&b, "- Issue: %s\n", orMissing(m.Issue))
	fmt.Fprintf(&b, "- Why stressful: %s\n", orMissing(m.WhyStressful))
	fmt.Fprintf(&b, "- Tried so far: %s\n\n", orMissing(m.Tried))

	if m.UserNeed != "" {
		fmt.Fprintf(&b, "User clear need (prioritize if your slot rules allow adjustment):\n\"%s\"\n\n", m.UserNeed)
	} else {
		b.WriteString("User clear need: [none provided].\n\n")
	}
	if m.UserPreference != "" {
		fmt.Fprintf(&b, "User constraints/preferences:\n\"%s\"\n\n", m.UserPreference)
	} else {
		b.WriteString("User constraints/preferences: [none provided].\n\n")
	}
	if !m.LastBotOptions.Empty() {
		b.WriteString("Last options shown to the user:\n")
		fmt.Fprintf(&b, "- Option A: %s\n", orMissing(m.LastBotOptions.A))
		fmt.Fprintf(&b, "- Option B: %s\n", orMissing(m.LastBotOptions.B))
		fmt.Fprintf(&b, "- Option C: %s\n\n", orMissing(m.LastBotOptions.C))
	} else {
		b.WriteString("Last options shown to the user: [none].\n\n")
	}
	if m.LastBotSuggestion != "" {
		fmt.Fprintf(&b, "Last single suggestion you gave:\n\"%s\"\n\n", m.LastBotSuggestion)
	} else {
		b.WriteString("Last single suggestion you gave: [none].\n\n")
	}

	b.WriteString("Novelty rule:\n")
	if len(m.AdviceHistory) == 0 {
		b.WriteString("No previous suggestions have been given yet.\n")
		return b.String()
	}
	b.WriteString("DO NOT repeat or paraphrase any of these previous suggestions (including the same core action with different wording):\n")
	items := m.AdviceHistory
	if len(items) > NoveltyAdviceItems {
		items = items[len(items)-NoveltyAdviceItems:]
	}
	for i, item := range items {
		fmt.Fprintf(&b, "%d) %s\n", i+1, item)
	}
	return b.String()
}

// recentChat renders the last n turns as "ROLE (slot N): text" lines.
func recentChat(history []models.Turn, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	lines := make([]string, len(history))
	for i, t := range history {
		label := strings.ToUpper(string(t.Role))
		if t.SlotID != nil {
			label += fmt.Sprintf(" (slot %d)", *t.SlotID)
		}
		lines[i] = label + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}

// guards returns the extra system instructions for the participant's message.
// In follow-up slots the classified intent rules out branches: the ending
// unless the answer is purely positive, reject-all unless it rejects all.
func guards(c *conditions.Condition, slot *conditions.Slot, a Answer) []string {
	var out []string
	if slot.Kind == conditions.KindFollowup && slot.Rule != "" {
		r := slot.Rule
		if a.Intent != classify.IntentPurelyPositive {
			reason := "is not purely positive"
			if classify.HasConcern(a.Text) {
				reason = "includes concerns/constraints"
			}
			out = append(out, fmt.Sprintf(
				"SLOT %d STRICT GUARD: The user message %s (classified as %s). Therefore the response is NOT purely positive. You MUST NOT apply rule 1%s (the ending sentence). Follow rule 3%s/4%s/5%s/Fallback as appropriate.",
				slot.ID, reason, a.Intent, r, r, r, r))
		}
		if a.Intent != classify.IntentRejectAll {
			out = append(out, fmt.Sprintf(
				"SLOT %d STRICT GUARD: The user message does not reject all options (classified as %s). Therefore you MUST NOT apply rule 2%s (reject-all). Use rule 1%s/3%s/4%s/5%s/Fallback as appropriate.",
				slot.ID, a.Intent, r, r, r, r, r))
		}
	}
	if slot.InjectSupport {
		out = append(out, supportPolicy(c))
	}
	return out
}

func supportPolicy(c *conditions.Condition) string {
	label := strings.ToUpper(c.Factors.Type) + " FOLLOW-UP SERVER POLICY:\n"
	if !c.Collaborative() {
		return label +
			"- An emotional-support sentence will be added by the SERVER.\n" +
			"- Therefore, you MUST NOT output any emotional-support sentence.\n" +
			"- Start directly with the required directive content.\n" +
			"- Your first sentence MUST start with an imperative verb (as required by the slot).\n"
	}
	ending := ""
	if len(c.Endings) > 0 {
		ending = c.Endings[0]
	}
	return label +
		fmt.Sprintf("- If you apply rule 1a/1b/1c, output EXACTLY this sentence and nothing else:\n\"%s\"\n", ending) +
		"- If you apply rule 2a/2b/2c (reject-all), output EXACTLY ONE of these starts and then the fixed question:\n" +
		fmt.Sprintf("\"%s Could you tell me %s\"\n", sentences.SorryToHear, sentences.RevisionSuffix) +
		fmt.Sprintf("\"%s Could you tell me %s\"\n", sentences.SupportTimeToFigure, sentences.RevisionSuffix) +
		"- Otherwise (rules 3/4/5/Fallback), DO NOT output any emotional-support sentence at all. Start directly with the required content. The SERVER will add exactly one emotional-support sentence."
}

// stripBank is removed from the start of a support-slot reply before the
// server's own sentence is added.
var stripBank = append(append([]string(nil), sentences.SupportBank...), "I understand")

// PostProcess applies the server-side rules to a generated reply and reports
// whether it vetoed an ending. In a follow-up slot only a purely positive
// answer may close the conversation: otherwise a reply carrying an ending
// sentence anywhere, or any end marker before the final slot, is replaced by
// the condition's follow-up question. In support slots exactly one
// server-chosen support sentence then leads the reply.
func PostProcess(c *conditions.Condition, slot *conditions.Slot, a Answer, generated string) (reply string, vetoed bool) {
	reply = strings.TrimSpace(generated)

	if slot.Kind == conditions.KindFollowup && a.Intent != classify.IntentPurelyPositive {
		body := sentences.StripLeading(reply, stripBank)
		if c.ContainsEnding(body) || (!a.Final && sentences.IndicatesEnd(body)) {
			reply = c.ConcernFollowup
			vetoed = true
		}
	}
	if !slot.InjectSupport {
		return reply, vetoed
	}
	if c.IsEnding(reply) {
		return reply, vetoed
	}
	if c.Collaborative() && isRevisionReply(reply) {
		return reply, vetoed
	}
	body := sentences.StripLeading(reply, stripBank)
	support := classify.FollowupSupport(a.Text).Sentence()
	return strings.TrimSpace(support + " " + body), vetoed
}

// isRevisionReply reports whether reply is one of the fixed reject-all replies.
func isRevisionReply(reply string) bool {
	return (sentences.HasPrefix(reply, sentences.SorryToHear) || sentences.HasPrefix(reply, sentences.SupportTimeToFigure)) &&
		sentences.HasSuffix(reply, sentences.RevisionSuffix)
}
