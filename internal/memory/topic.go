package memory

import (
	"regexp"
	"strings"
)

var (
	stressStatementRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bis\s+(really\s+)?(so\s+)?(very\s+)?(stressed|stressful|worried|anxious)\b.*$`),
		regexp.MustCompile(`(?i)\bi['’]?\s*m\s+(really\s+)?(so\s+)?(very\s+)?(stressed|stressful|worried|anxious)\b.*$`),
		regexp.MustCompile(`(?i)\bi\s+am\s+(really\s+)?(so\s+)?(very\s+)?(stressed|stressful|worried|anxious)\b.*$`),
	}
	semicolonRe     = regexp.MustCompile(`;\s*`)
	trailingPunctRe = regexp.MustCompile(`[.?!]\s*$`)
	leadingAboutRe  = regexp.MustCompile(`(?i)^about\s+`)

	promptTopicRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)what\s+makes\s+(?:the\s+|your\s+)?(.+?)\s+stressful\b`),
		regexp.MustCompile(`(?i)makes\s+(?:the\s+|your\s+)?(.+?)\s+stressful\b`),
	}
	trailingMarksRe = regexp.MustCompile(`[?.!]+$`)

	topicFixes = []struct {
		re      *regexp.Regexp
		replace string
	}{
		{regexp.MustCompile(`(?i)\bquit(ting)?\s+smoke\b`), "quitting smoking"},
		{regexp.MustCompile(`(?i)\bstop(ping)?\s+smoke\b`), "stopping smoking"},
		{regexp.MustCompile(`(?i)\bavoid(ing)?\s+smoke\b`), "avoiding smoking"},
	}

	bareSmokeRe  = regexp.MustCompile(`(?i)^smoke$`)
	determinerRe = regexp.MustCompile(`(?i)^(the|a|an)\s+`)
	gerundRe     = regexp.MustCompile(`(?i)^\w+ing\b`)
)

// DefaultTopic is used when no topic could be extracted.
const DefaultTopic = "your academic issue"

// TopicFromAnswer extracts the topic phrase from the participant's first answer,
// e.g. "My final exam is really stressful" -> "My final exam".
func TopicFromAnswer(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}
	s = semicolonRe.Split(s, 2)[0]
	for _, re := range stressStatementRes {
		s = re.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(trailingPunctRe.ReplaceAllString(s, ""))
	return strings.TrimSpace(leadingAboutRe.ReplaceAllString(s, ""))
}

// TopicFromPrompt extracts the topic a generated slot-1 question asks about,
// e.g. "Could you tell me more about what makes the final exam stressful for you?" -> "final exam".
func TopicFromPrompt(reply string) string {
	t := strings.TrimSpace(reply)
	if t == "" {
		return ""
	}
	for _, re := range promptTopicRes {
		if m := re.FindStringSubmatch(t); m != nil {
			return trailingMarksRe.ReplaceAllString(strings.TrimSpace(m[1]), "")
		}
	}
	return ""
}

// NormalizeTopic fixes common verb + noun slips such as "quit smoke".
func NormalizeTopic(topic string) string {
	t := strings.TrimSpace(topic)
	if t == "" {
		return ""
	}
	for _, fix := range topicFixes {
		if fix.re.MatchString(t) {
			return fix.re.ReplaceAllString(t, fix.replace)
		}
	}
	return t
}

// SolutionsTopic renders a stored topic as the object of
// "deal with ...": determiners are dropped, non-gerund phrases get "the".
func SolutionsTopic(slotTopic string) string {
	n := NormalizeTopic(slotTopic)
	if bareSmokeRe.MatchString(n) {
		n = "smoking"
	}
	n = strings.TrimSpace(determinerRe.ReplaceAllString(n, ""))
	if n == "" {
		return DefaultTopic
	}
	if !gerundRe.MatchString(n) {
		return "the " + n
	}
	return n
}
