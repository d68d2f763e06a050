// Package sentences holds the fixed sentences the chat engine emits or recognizes,
// together with the tolerant comparison used to match them against generated text.
//
// Comparison folds case, curly/straight apostrophes and quotes, and runs of
// whitespace, so "It’s good to hear that." and "it's good to hear that" compare equal.
package sentences

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Fixed replies.
const (
	Greeting          = "Hi, I am your chat partner to talk about your stress. Can you please tell me one academic-related issue that has been stressful to you recently?"
	EndOfConversation = "You have reached the end of the conversation. Thank you for your participation."
	ConversationEnded = "Conversation ended."
	Crisis            = "I’m really sorry you’re going through this. I can’t help with self-harm, but you can get support right now:\n" +
		"- If you are in the U.S./Canada, call or text 988 (Suicide & Crisis Lifeline)\n" +
		"- If you are outside the U.S., find local numbers via your country’s emergency services\n" +
		"- If you are in immediate danger, call your local emergency number\n"
)

// Ending sentences produced by the follow-up slots.
const (
	GladEnding = "I’m glad to hear that. You’ve done a good job thinking about your situation so far. I wish you all the best. (This is the end of our conversation.)"
	GoodEnding = "It’s good to hear that. (This is the end of our conversation.)"
)

// Starts and tail of the fixed revision reply used when every option is rejected.
const (
	SorryToHear    = "I'm sorry to hear that."
	RevisionSuffix = "which parts you think should be revised?"
)

// Emotional-support sentences for follow-up slots.
const (
	SupportWorried             = "It's understandable to feel worried about this situation."
	SupportUnderstand          = "I understand."
	SupportTimeToFigure        = "It’s usual to take some time to figure out what doesn’t quite fit."
	SupportMakesSense          = "That makes sense."
	SupportConcern             = "I understand your concern."
	SupportReasonableQuestion  = "It's a reasonable question."
	SupportReasonableQuestions = "These are reasonable questions."
)

// Emotional-support sentences for the templated solutions question.
const (
	SupportThatsOkay  = "That’s okay."
	SupportHardToPut  = "It can be hard to put it into words."
	SupportNoWorries  = "No worries if you’re not sure."
	SupportFineToFeel = "It is fine to feel that way. Anyone in your situation would find it stressful."
)

// SupportBank lists every follow-up emotional-support sentence. Generated text
// starting with one of these has it stripped before the server-chosen sentence is added.
var SupportBank = []string{
	SupportWorried,
	SupportUnderstand,
	SupportTimeToFigure,
	SupportMakesSense,
	SupportConcern,
	SupportReasonableQuestion,
	SupportReasonableQuestions,
}

// Solutions-question banks, keyed by what the participant's answer looked like.
var (
	UncertainBank = []string{SupportThatsOkay, SupportHardToPut, SupportNoWorries}
	DistressBank  = []string{SupportFineToFeel}
	QuestionBank  = []string{SupportReasonableQuestion}
	NeutralBank   = []string{SupportUnderstand, SupportMakesSense}
)

// endMarkers are substrings that mark a reply as closing the conversation.
var endMarkers = []string{
	"you have reached the end of the conversation",
	"(this is the end of our conversation.)",
}

// fold maps a rune to its comparison form.
func fold(r rune) rune {
	switch r {
	case '’', '‘', 'ʼ', '`':
		return '\''
	case '“', '”':
		return '"'
	}
	return unicode.ToLower(r)
}

// Normalize lowercases text, folds typographic quotes, trims it and collapses
// internal whitespace to single spaces.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(fold(r))
	}
	return b.String()
}

// Canonical is Normalize with trailing sentence punctuation removed.
func Canonical(text string) string {
	return strings.TrimRight(Normalize(text), ".!? ")
}

// Equal reports whether a and b are the same sentence up to case, quote style,
// whitespace and trailing punctuation.
func Equal(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// EqualAny reports whether text equals any of the candidates.
func EqualAny(text string, candidates ...string) bool {
	c := Canonical(text)
	for _, s := range candidates {
		if c == Canonical(s) {
			return true
		}
	}
	return false
}

// Contains reports whether sentence appears anywhere in text, under the same
// folding as Equal.
func Contains(text, sentence string) bool {
	needle := Canonical(sentence)
	return needle != "" && strings.Contains(Normalize(text), needle)
}

// IndicatesEnd reports whether a reply closes the conversation.
func IndicatesEnd(reply string) bool {
	t := Normalize(reply)
	for _, m := range endMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// HasPrefix reports whether text starts with sentence.
func HasPrefix(text, sentence string) bool {
	_, ok := cutPrefix(text, sentence)
	return ok
}

// HasSuffix reports whether the normalized text ends with the normalized suffix.
func HasSuffix(text, suffix string) bool {
	return strings.HasSuffix(Normalize(text), Normalize(suffix))
}

// StripLeading removes any sentences from bank found at the start of text,
// repeatedly, and returns the trimmed remainder. Longer sentences are tried
// first so "I understand your concern." is not cut as "I understand".
func StripLeading(text string, bank []string) string {
	ordered := append([]string(nil), bank...)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	rest := strings.TrimSpace(text)
	for {
		stripped := false
		for _, s := range ordered {
			if r, ok := cutPrefix(rest, s); ok {
				rest = r
				stripped = true
				break
			}
		}
		if !stripped || rest == "" {
			return rest
		}
	}
}

// cutPrefix matches sentence at the start of text under fold/whitespace rules.
// The sentence's own trailing punctuation is optional in text, but the match
// must end at punctuation or end of text so a bare prefix of a longer clause
// does not match.
func cutPrefix(text, sentence string) (string, bool) {
	core := strings.TrimRight(strings.TrimSpace(sentence), ".!? ")
	if core == "" {
		return text, false
	}
	t := strings.TrimLeftFunc(text, unicode.IsSpace)
	i, j := 0, 0
	for j < len(core) {
		if i >= len(t) {
			return text, false
		}
		cr, cw := utf8.DecodeRuneInString(core[j:])
		tr, tw := utf8.DecodeRuneInString(t[i:])
		if unicode.IsSpace(cr) {
			if !unicode.IsSpace(tr) {
				return text, false
			}
			for j < len(core) {
				r, w := utf8.DecodeRuneInString(core[j:])
				if !unicode.IsSpace(r) {
					break
				}
				j += w
			}
			for i < len(t) {
				r, w := utf8.DecodeRuneInString(t[i:])
				if !unicode.IsSpace(r) {
					break
				}
				i += w
			}
			continue
		}
		if fold(cr) != fold(tr) {
			return text, false
		}
		i += tw
		j += cw
	}
	if i < len(t) {
		r, _ := utf8.DecodeRuneInString(t[i:])
		if !strings.ContainsRune(".!?,", r) {
			return text, false
		}
	}
	for i < len(t) {
		r, w := utf8.DecodeRuneInString(t[i:])
		if !strings.ContainsRune(".!?,", r) && !unicode.IsSpace(r) {
			break
		}
		i += w
	}
	return t[i:], true
}
