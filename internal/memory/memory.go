// Package memory derives durable session facts from participant answers and
// generated bot replies.
package memory

import (
	"strings"

	"github.com/BTreeMap/SlotChat/internal/advice"
	"github.com/BTreeMap/SlotChat/internal/classify"
	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/sentences"
)

// MaxAdviceHistory caps the advice log.
const MaxAdviceHistory = 30

// Slots whose answers are recorded as facts.
const (
	IssueSlot   = 0
	WhySlot     = 1
	TriedSlot   = 2
	PromptSlot  = 1 // slot whose generated question names the topic
	prefJoinSep = " | "
)

// ApplyUserTurn records an accepted participant answer to prevSlot.
// Slot-indexed facts are written only when prevSlot asked for them; need and
// preference extraction runs on every answer.
func ApplyUserTurn(mem *models.Memory, prevSlot int, text string) {
	switch prevSlot {
	case IssueSlot:
		mem.Issue = text
		if topic := TopicFromAnswer(text); topic != "" {
			mem.SlotTopic = topic
		}
	case WhySlot:
		mem.WhyStressful = text
	case TriedSlot:
		mem.Tried = text
	}

	if need := classify.Need(text); need != "" {
		mem.UserNeed = need
	}
	if pref := classify.Preference(text); pref != "" {
		mem.UserPreference = MergePreference(mem.UserPreference, pref)
	}
}

// ApplyBotTurn records what a generated reply in slot showed the participant.
func ApplyBotTurn(mem *models.Memory, slot int, reply string) {
	if slot == PromptSlot {
		if topic := TopicFromPrompt(reply); topic != "" {
			mem.SlotTopic = topic
		}
	}
	if opts, ok := advice.ParseOptions(reply); ok {
		mem.LastBotOptions = opts
	}
	if s, ok := advice.ParseSuggestion(reply); ok {
		mem.LastBotSuggestion = s
	}
	AppendAdvice(mem, advice.Extract(reply)...)
}

// AppendAdvice appends the items not already in the advice log, compared as
// sentences, keeping only the most recent MaxAdviceHistory entries.
func AppendAdvice(mem *models.Memory, items ...string) {
	for _, item := range items {
		if item = strings.TrimSpace(item); item == "" || sentences.EqualAny(item, mem.AdviceHistory...) {
			continue
		}
		mem.AdviceHistory = append(mem.AdviceHistory, item)
	}
	if n := len(mem.AdviceHistory); n > MaxAdviceHistory {
		mem.AdviceHistory = append([]string(nil), mem.AdviceHistory[n-MaxAdviceHistory:]...)
	}
}

// MergePreference folds a newly stated preference into the existing one.
// Preference memory only grows or refines, never shrinks.
func MergePreference(oldPref, newPref string) string {
	a := strings.TrimSpace(oldPref)
	b := strings.TrimSpace(newPref)
	switch {
	case b == "":
		return a
	case a == "":
		return b
	case strings.Contains(strings.ToLower(a), strings.ToLower(b)):
		return a
	case len(b) >= len(a):
		return b
	default:
		return a + prefJoinSep + b
	}
}
