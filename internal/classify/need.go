package classify

import (
	"regexp"
	"strings"
)

// needCues are tried in order; the first match wins and its capture is returned.
var needCues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)my real need is (.+)`),
	regexp.MustCompile(`(?i)what i really need is (.+)`),
	regexp.MustCompile(`(?i)actually[, ]+i need (.+)`),
	regexp.MustCompile(`(?i)actually[, ]+i want (.+)`),
	regexp.MustCompile(`(?i)i need (.+)`),
	regexp.MustCompile(`(?i)i want (.+)`),
	regexp.MustCompile(`(?i)the real problem is (.+)`),
	regexp.MustCompile(`(?i)the main issue is (.+)`),
}

// preferenceCues are tried in order; the whole match is returned.
var preferenceCues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i don['’]?t want (.+)`),
	regexp.MustCompile(`(?i)i do not want (.+)`),
	regexp.MustCompile(`(?i)i can['’]?t (.+)`),
	regexp.MustCompile(`(?i)i cannot (.+)`),
	regexp.MustCompile(`(?i)that doesn['’]?t work(?: (.+))?`),
	regexp.MustCompile(`(?i)that does not work(?: (.+))?`),
}

// Need returns the need the participant states in text, or "".
func Need(text string) string {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return ""
	}
	for _, re := range needCues {
		if m := re.FindStringSubmatch(raw); m != nil && strings.TrimSpace(m[1]) != "" {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// Preference returns the constraint or preference clause in text, or "".
func Preference(text string) string {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return ""
	}
	for _, re := range preferenceCues {
		if m := re.FindString(raw); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}
