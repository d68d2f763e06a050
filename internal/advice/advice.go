// Package advice parses structured suggestions out of generated bot replies.
//
// Two grammars are recognized:
//
//	Enumerated (three options), either as a list
//	    - First, <A>
//	    - Next, <B>
//	    - Then, <C>
//	or as prose
//	    One option you could consider is <A> Another option is <B> A third option is <C> What do you think ...
//
//	Single suggestion
//	    ... Let's think about another solution. <S> What do you think about this?
//	    ... apply the following approach: <S>
//
// Anything else is "not structured".
package advice

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/SlotChat/internal/models"
)

var (
	listFirstRe = regexp.MustCompile(`(?i)-\s*First,\s*`)
	listNextRe  = regexp.MustCompile(`(?i)-\s*Next,\s*`)
	listThenRe  = regexp.MustCompile(`(?i)-\s*Then,\s*`)

	listNextStopRe = regexp.MustCompile(`(?i)\n-\s*Next,`)
	listThenStopRe = regexp.MustCompile(`(?i)\n-\s*Then,`)

	proseFirstRe   = regexp.MustCompile(`(?i)One option you could consider is\s*`)
	proseAnotherRe = regexp.MustCompile(`(?i)Another option is\s*`)
	proseThirdRe   = regexp.MustCompile(`(?i)A third option is\s*`)
	proseCloseRe   = regexp.MustCompile(`(?i)What do you think`)

	anotherSolutionRe = regexp.MustCompile(`(?is)let['’]?s\s+think\s+about\s+another\s+solution\.\s*(.*?)\s*what do you think about this\?`)
	approachRe        = regexp.MustCompile(`(?is)apply the following approach:\s*(.*?)\s*$`)

	quoteReplacer = strings.NewReplacer("“", "", "”", "", `"`, "")
)

// section returns the text following start up to the earliest stop, or "" when
// start does not occur.
func section(text string, start *regexp.Regexp, stops ...*regexp.Regexp) string {
	loc := start.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	cut := len(rest)
	for _, stop := range stops {
		if s := stop.FindStringIndex(rest); s != nil && s[0] < cut {
			cut = s[0]
		}
	}
	return strings.TrimSpace(rest[:cut])
}

func clean(s string) string {
	return strings.TrimSpace(quoteReplacer.Replace(strings.TrimSpace(s)))
}

// ParseOptions extracts a three-option structure from text. ok is false when
// neither grammar yields any option. Options missing from a partial structure
// are left empty.
func ParseOptions(text string) (opts models.Options, ok bool) {
	opts.A = section(text, listFirstRe, listNextStopRe, listThenStopRe)
	opts.B = section(text, listNextRe, listThenStopRe)
	opts.C = section(text, listThenRe)

	if opts.Empty() {
		opts.A = section(text, proseFirstRe, proseAnotherRe, proseThirdRe, proseCloseRe)
		opts.B = section(text, proseAnotherRe, proseThirdRe, proseCloseRe)
		opts.C = section(text, proseThirdRe, proseCloseRe)
	}

	opts.A, opts.B, opts.C = clean(opts.A), clean(opts.B), clean(opts.C)
	return opts, !opts.Empty()
}

// ParseSuggestion extracts a single suggestion from text.
func ParseSuggestion(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", false
	}
	for _, re := range []*regexp.Regexp{anotherSolutionRe, approachRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			if s := strings.TrimSpace(m[1]); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// Extract returns every suggestion text found in a reply: options A, B and C
// (those present) followed by a single suggestion if there is one.
func Extract(text string) []string {
	var out []string
	if opts, ok := ParseOptions(text); ok {
		for _, o := range []string{opts.A, opts.B, opts.C} {
			if o != "" {
				out = append(out, o)
			}
		}
	}
	if s, ok := ParseSuggestion(text); ok {
		out = append(out, s)
	}
	return out
}
