package classify

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/SlotChat/internal/sentences"
)

// Intent is the branch of a follow-up slot's decision tree that an answer to
// the shown options selects.
type Intent int

const (
	IntentFallback Intent = iota
	IntentPurelyPositive
	IntentRejectAll
	IntentClearNeed
	IntentDifficulty
	IntentElaboration
	IntentQuestion
)

func (i Intent) String() string {
	switch i {
	case IntentPurelyPositive:
		return "purely_positive"
	case IntentRejectAll:
		return "reject_all"
	case IntentClearNeed:
		return "clear_need"
	case IntentDifficulty:
		return "difficulty"
	case IntentElaboration:
		return "elaboration"
	case IntentQuestion:
		return "question"
	default:
		return "fallback"
	}
}

var (
	contrastRe       = regexp.MustCompile(`\b(but|however|though|sometimes|except)\b`)
	timeConstraintRe = regexp.MustCompile(`\b(no time|not enough time|don't have (enough )?time|doesn't have (enough )?time|do not have (enough )?time)\b`)
	limitationRe     = regexp.MustCompile(`\b(can't|cannot|hard|difficult|problem|issue|concern)\b`)
	constraintRe     = regexp.MustCompile(`\b(can't|cannot|hard|difficult)\b`)

	// A standalone letter names an option. "a" only counts at a clause end,
	// so the article does not.
	optionRefRe    = regexp.MustCompile(`\b(first|second|third|last)\b|\b(option|choice|number)\s*[abc123]\b`)
	letterOptionRe = regexp.MustCompile(`(^|[^\w'])([bc]([^\w']|$)|a([.,;!?)]|$))`)
	bareOptionRe   = regexp.MustCompile(`^[123][.)]?$`)

	elaborationRe     = regexp.MustCompile(`\b(tell\s+me\s+more|more\s+details?|more\s+information|expand\s+on|elaborate\s+on|go\s+deeper|give\s+(me\s+)?(an\s+)?example|examples?)\b`)
	elaborationVerbRe = regexp.MustCompile(`\b(explain|elaborate)\b`)
	needOrConstraint  = regexp.MustCompile(`\b(my\s+real\s+need\s+is|what\s+i\s+really\s+need\s+is|i\s+need|i\s+want|i\s+prefer|i\s+don't\s+want|i\s+do\s+not\s+want)\b`)
	inabilityRe       = regexp.MustCompile(`\b(i\s+can't|i\s+cannot|doesn't\s+work|won't\s+work|impossible|no\s+way|i\s+have\s+no\s+idea|i\s+don't\s+know\s+how)\b`)
	mildDifficultyRe  = regexp.MustCompile(`\b(not\s+sure\s+how|not\s+sure|unsure|confused|stuck|hard\s+to)\b`)
	worriedRe         = regexp.MustCompile(`\b(worried|anxious|anxiety|panic)\b`)
	stanceIntentRe    = regexp.MustCompile(`\b(what\s+do\s+you\s+mean|meaning|clarify|define|definition|why|how|which|what\s+is|what\s+are|what\s+should\s+i\s+do|which\s+one|how\s+can\s+i)\b`)

	rejectAllRe = regexp.MustCompile(`\b(none\s+of\s+(these|them|those|the\s+options)|(this|that|it|they|these)\s+(doesn't|does\s+not|don't|do\s+not)\s+help|not\s+helpful|(doesn't|does\s+not|don't|do\s+not)\s+work\s+for\s+me|useless)\b`)
	approvalRe  = regexp.MustCompile(`\b(good|great|helpful|useful|like|love|nice|perfect|agree|yes|yeah|yep|sure|thanks|thank\s+you|will\s+try|i'll\s+try|works|okay|ok)\b`)
)

// HasConcern reports whether text carries a contrast marker, a time constraint,
// or a limitation word. Any of these vetoes a purely positive reading.
func HasConcern(text string) bool {
	t := sentences.Normalize(text)
	return contrastRe.MatchString(t) || timeConstraintRe.MatchString(t) || limitationRe.MatchString(t)
}

// HasConstraint reports whether text states a time constraint or inability.
func HasConstraint(text string) bool {
	t := sentences.Normalize(text)
	return timeConstraintRe.MatchString(t) || constraintRe.MatchString(t)
}

// MentionsOption reports whether text refers to one specific option shown
// earlier: by ordinal, by "option"/"choice"/"number" and a label, by a
// standalone letter, or by a bare digit as the whole message.
func MentionsOption(text string) bool {
	t := sentences.Normalize(text)
	return optionRefRe.MatchString(t) || letterOptionRe.MatchString(t) || bareOptionRe.MatchString(t)
}

// Elaboration reports whether text asks for more detail on an option.
func Elaboration(text string) bool {
	t := sentences.Normalize(text)
	return elaborationRe.MatchString(t) || elaborationVerbRe.MatchString(t)
}

// Difficulty reports whether text expresses inability or uncertainty about
// carrying something out.
func Difficulty(text string) bool {
	t := sentences.Normalize(text)
	return inabilityRe.MatchString(t) || mildDifficultyRe.MatchString(t)
}

// RejectAll reports whether text rejects the options as a whole. Any reference
// to a specific option or any difficulty language rules it out.
func RejectAll(text string) bool {
	t := sentences.Normalize(text)
	if !rejectAllRe.MatchString(t) {
		return false
	}
	return !MentionsOption(text) && !Difficulty(text) && !HasConstraint(text)
}

// PurelyPositive reports whether text approves without any concern or rejection.
func PurelyPositive(text string) bool {
	t := sentences.Normalize(text)
	if HasConcern(text) || rejectAllRe.MatchString(t) {
		return false
	}
	return approvalRe.MatchString(t)
}

// Followup classifies an answer given in a follow-up slot. Precedence:
//
//  1. elaboration request
//  2. difficulty or inability, or a constraint on a named option
//  3. clear need or preference
//  4. rejection of all options
//  5. question
//  6. purely positive (only when HasConcern is false)
//  7. fallback
func Followup(text string) Intent {
	switch {
	case Elaboration(text):
		return IntentElaboration
	case Difficulty(text), MentionsOption(text) && HasConstraint(text):
		return IntentDifficulty
	case Need(text) != "" || Preference(text) != "":
		return IntentClearNeed
	case RejectAll(text):
		return IntentRejectAll
	case Question(text) != NotQuestion:
		return IntentQuestion
	case PurelyPositive(text):
		return IntentPurelyPositive
	default:
		return IntentFallback
	}
}

// SupportReason names why a follow-up emotional-support sentence was chosen.
type SupportReason int

const (
	ReasonDefault SupportReason = iota
	ReasonMultipleQuestions
	ReasonElaboration
	ReasonInability
	ReasonNeed
	ReasonMildDifficulty
	ReasonWorried
	ReasonSingleQuestion
)

// Sentence returns the emotional-support sentence for the reason.
func (r SupportReason) Sentence() string {
	switch r {
	case ReasonMultipleQuestions:
		return sentences.SupportReasonableQuestions
	case ReasonElaboration, ReasonMildDifficulty:
		return sentences.SupportMakesSense
	case ReasonInability:
		return sentences.SupportTimeToFigure
	case ReasonNeed:
		return sentences.SupportConcern
	case ReasonWorried:
		return sentences.SupportWorried
	case ReasonSingleQuestion:
		return sentences.SupportReasonableQuestion
	default:
		return sentences.SupportUnderstand
	}
}

// FollowupSupport picks the emotional-support sentence for a follow-up reply by
// the pragmatic function of the participant's message. Precedence, top wins:
//
//  1. several questions in a questioning stance
//  2. directive elaboration request ("tell me more about the second one")
//  3. strong inability
//  4. stated need or constraint
//  5. mild difficulty
//  6. worry
//  7. single question
//  8. default
func FollowupSupport(text string) SupportReason {
	raw := strings.TrimSpace(text)
	t := sentences.Normalize(raw)
	marks := strings.Count(raw, "?")

	elaboration := elaborationRe.MatchString(t)
	questioning := !elaboration && (marks > 0 || questionStartRe.MatchString(t) || stanceIntentRe.MatchString(t))
	multiple := questioning && (marks >= 2 || len(whWordRe.FindAllString(t, -1)) >= 2)
	need := needOrConstraint.MatchString(t) || Need(raw) != "" || Preference(raw) != ""

	switch {
	case multiple:
		return ReasonMultipleQuestions
	case elaboration:
		return ReasonElaboration
	case inabilityRe.MatchString(t):
		return ReasonInability
	case need:
		return ReasonNeed
	case mildDifficultyRe.MatchString(t):
		return ReasonMildDifficulty
	case worriedRe.MatchString(t):
		return ReasonWorried
	case questioning:
		return ReasonSingleQuestion
	default:
		return ReasonDefault
	}
}

// AnswerTone tags a participant's answer about why the issue is stressful.
// It selects the bank the solutions question draws its opening sentence from.
type AnswerTone int

const (
	ToneNeutral AnswerTone = iota
	ToneUncertain
	ToneDistress
	ToneQuestion
)

// Bank returns the emotional-support sentences for the tone.
func (a AnswerTone) Bank() []string {
	switch a {
	case ToneUncertain:
		return sentences.UncertainBank
	case ToneDistress:
		return sentences.DistressBank
	case ToneQuestion:
		return sentences.QuestionBank
	default:
		return sentences.NeutralBank
	}
}

var (
	elaboratedRe  = regexp.MustCompile(`\b(because|since|so|that's why|it's that|first|second|also|and|most importantly)\b`)
	uncertaintyRe = regexp.MustCompile(`\b(i\s*(do\s*not|don't)\s*know|idk|not\s*sure|maybe|i guess|kind of)\b`)
	distressRe    = regexp.MustCompile(`\b(distress(ed)?|anxious|anxiety|worried|panic|craving|withdrawal|uncomfortable|upset|can't\s+focus|irritable)\b`)
	plainQStartRe = regexp.MustCompile(`^(what|why|how|which|can|could|do|does|is|are)\b`)
)

// minElaboratedWords is the word count from which an answer counts as elaborated
// even without connectives.
const minElaboratedWords = 12

// SolutionsTone classifies the answer that precedes the solutions question.
// Uncertainty only counts when the answer is short and unelaborated; then
// distress, then questions.
func SolutionsTone(text string) AnswerTone {
	t := sentences.Normalize(text)
	elaborated := len(strings.Fields(t)) >= minElaboratedWords || elaboratedRe.MatchString(t)

	switch {
	case uncertaintyRe.MatchString(t) && !elaborated:
		return ToneUncertain
	case distressRe.MatchString(t):
		return ToneDistress
	case strings.Contains(text, "?") || plainQStartRe.MatchString(t):
		return ToneQuestion
	default:
		return ToneNeutral
	}
}
