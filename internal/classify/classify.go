// Package classify implements the rule-based classifiers that read a participant's
// utterance and decide which branch of a slot applies.
//
// Every classifier is a pure function over the raw utterance. Utterances are
// normalized with sentences.Normalize before matching, so patterns only need to
// handle lowercase text with straight apostrophes and single spaces.
package classify

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/SlotChat/internal/sentences"
)

// anyMatch reports whether any pattern matches t.
func anyMatch(t string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

var crisisPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(suicide|suicidal)\b`),
	regexp.MustCompile(`\bkill\s+myself\b`),
	regexp.MustCompile(`\b(end|take)\s+my\s+life\b`),
	regexp.MustCompile(`\bself[-\s]?harm\b`),
	regexp.MustCompile(`\bhurt\s+myself\b`),
	regexp.MustCompile(`\bi\s+want\s+to\s+die\b`),
	regexp.MustCompile(`\bcan'?t\s+go\s+on\b`),
}

var (
	wantToRe     = regexp.MustCompile(`\bi\s+want\s+to\b`)
	crisisGoalRe = regexp.MustCompile(`\b(die|kill\s+myself|end\s+my\s+life)\b`)
)

// Crisis reports whether text contains self-harm or suicide language.
// Matching is deliberately broad.
func Crisis(text string) bool {
	t := sentences.Normalize(text)
	if t == "" {
		return false
	}
	if anyMatch(t, crisisPatterns) {
		return true
	}
	return wantToRe.MatchString(t) && crisisGoalRe.MatchString(t)
}

var (
	endWordRe      = regexp.MustCompile(`\b(end|stop|exit|quit|leave|terminate)\b`)
	refusalPhrases = []string{
		"no advice",
		"i don't want advice",
		"i do not want advice",
		"don't give advice",
		"do not give advice",
		"i want to end",
		"i want to stop",
		"let's end",
	}
)

// EndIntent reports whether text declines advice or asks to end: a
// termination word, a refusal phrase, or a bare "no". It carries no slot
// context; callers only consult it for answers to end-gated slots.
func EndIntent(text string) bool {
	t := sentences.Normalize(text)
	if t == "" {
		return false
	}
	if bare := sentences.Canonical(t); bare == "no" || bare == "nope" || endWordRe.MatchString(t) {
		return true
	}
	for _, p := range refusalPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

var clarificationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bwhat\s+do\s+you\s+mean\b`),
	regexp.MustCompile(`\bwhat('?s| is| does)?\s+(that|this|it)?\s*(mean|meaning)\b`),
	regexp.MustCompile(`\bi\s*(do\s*not|don'?t)\s*(understand|get\s*it|get)\b`),
	regexp.MustCompile(`\bi'?m\s*(confused|lost|not\s+sure)\b`),
	regexp.MustCompile(`\b(can|could)\s+you\s+(explain|clarify|elaborate)\b`),
	regexp.MustCompile(`\bplease\s+(explain|clarify)\b`),
	regexp.MustCompile(`\bwhat\s+should\s+i\s+(answer|say|respond)\b`),
	regexp.MustCompile(`\bhow\s+should\s+i\s+(answer|respond)\b`),
}

var shortQuestionStartRe = regexp.MustCompile(`^(what|why|how|which|huh|sorry|pardon)\b`)

// maxShortClarification is the length at or under which a question-like reply
// is taken as confusion rather than an answer.
const maxShortClarification = 30

// Clarification reports whether text asks what the bot meant instead of
// answering it.
func Clarification(text string) bool {
	t := sentences.Normalize(text)
	if t == "" {
		return false
	}
	if anyMatch(t, clarificationPatterns) {
		return true
	}
	return len(t) <= maxShortClarification && (strings.Contains(t, "?") || shortQuestionStartRe.MatchString(t))
}
