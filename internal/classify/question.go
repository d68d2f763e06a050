package classify

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/SlotChat/internal/sentences"
)

// QuestionKind tags how many questions an utterance asks.
type QuestionKind int

const (
	NotQuestion QuestionKind = iota
	SingleQuestion
	MultipleQuestions
)

func (k QuestionKind) String() string {
	switch k {
	case SingleQuestion:
		return "single"
	case MultipleQuestions:
		return "multiple"
	default:
		return "none"
	}
}

var (
	questionStartRe  = regexp.MustCompile(`^(what|why|how|which|who|when|where|can|could|would|should|is|are|do|does)\b`)
	questionIntentRe = regexp.MustCompile(`\b(can\s+you|could\s+you|would\s+you|please\s+explain|explain|clarify|define|definition|meaning|what\s+is|what\s+are|how\s+to|how\s+can\s+i|what\s+should\s+i\s+do|which\s+one)\b`)
	whWordRe         = regexp.MustCompile(`\b(what|why|how|which|who|when|where)\b`)
	coordinatorRe    = regexp.MustCompile(`\b(and|or)\b`)
	joinedClausesRe  = regexp.MustCompile(`\b(what|why|how|which|who|when|where)\b.*\b(and|or)\b.*\b(what|why|how|which|who|when|where)\b`)
)

// Question classifies text as no question, a single question, or several.
//
// A question has a question mark, an interrogative first word, or an explicit
// question-intent phrase. It counts as multiple with two or more question
// marks, two or more wh-words, or two wh-clauses joined by "and"/"or".
func Question(text string) QuestionKind {
	raw := strings.TrimSpace(text)
	t := sentences.Normalize(raw)
	marks := strings.Count(raw, "?")
	starts := questionStartRe.MatchString(t)

	if marks == 0 && !starts && !questionIntentRe.MatchString(t) {
		return NotQuestion
	}
	if marks >= 2 {
		return MultipleQuestions
	}
	wh := len(whWordRe.FindAllString(t, -1))
	if wh >= 2 {
		return MultipleQuestions
	}
	if coordinatorRe.MatchString(t) && (wh >= 1 || starts) && joinedClausesRe.MatchString(t) {
		return MultipleQuestions
	}
	return SingleQuestion
}
