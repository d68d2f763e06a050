// Package conditions provides the static table of experimental conditions.
//
// The default table is embedded from conditions.yaml and parsed once. A table
// may also be loaded from a file to run the experiment with adjusted slot
// instructions; it is validated the same way and is read-only after load.
package conditions

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/SlotChat/internal/sentences"
)

//go:embed conditions.yaml
var defaultYAML []byte

// ErrUnknownCondition is returned when a condition id is not in the table.
var ErrUnknownCondition = errors.New("unknown condition")

// ConditionCount is the number of conditions a table must define.
const ConditionCount = 4

// DefaultClarification is the repair reply for slots without their own text.
const DefaultClarification = "Could you clarify what part is unclear, and then answer the question I asked?"

// Style is the communication style factor.
type Style string

const (
	StyleCollaborative Style = "collaborative"
	StyleDirective     Style = "directive"
)

// SlotKind classifies what a slot does in the conversation.
type SlotKind string

const (
	KindGreeting   SlotKind = "greeting"
	KindAnalysis   SlotKind = "analysis"
	KindSolutions  SlotKind = "solutions"
	KindTransition SlotKind = "transition"
	KindAdvice     SlotKind = "advice"
	KindFollowup   SlotKind = "followup"
)

func (k SlotKind) valid() bool {
	switch k {
	case KindGreeting, KindAnalysis, KindSolutions, KindTransition, KindAdvice, KindFollowup:
		return true
	}
	return false
}

// Definitions holds the factor definition placeholders sent to the generator.
type Definitions struct {
	Collaborative      string `yaml:"collaborative"`
	Directive          string `yaml:"directive"`
	EmotionalSupport   string `yaml:"emotional_support"`
	NoEmotionalSupport string `yaml:"no_emotional_support"`
}

// Factors are the experimental factors of a condition.
type Factors struct {
	Type             string `yaml:"type"`
	Style            Style  `yaml:"style"`
	EmotionalSupport bool   `yaml:"emotional_support"`
}

// Slot is one stage of a condition's conversation.
type Slot struct {
	ID            int      `yaml:"-"`
	Name          string   `yaml:"name"`
	Kind          SlotKind `yaml:"kind"`
	FixedText     string   `yaml:"fixed_text"`
	Instruction   string   `yaml:"instruction"`
	Templated     bool     `yaml:"templated"`
	InjectSupport bool     `yaml:"inject_support"`
	Rule          string   `yaml:"rule"`
	Clarification string   `yaml:"clarification"`
}

// Condition is one of the four experimental conditions.
type Condition struct {
	ID              string        `yaml:"id"`
	Factors         Factors       `yaml:"factors"`
	Order           []int         `yaml:"order"`
	RepairUntil     int           `yaml:"repair_until"`
	Endings         []string      `yaml:"endings"`
	ConcernFollowup string        `yaml:"concern_followup"`
	Slots           map[int]*Slot `yaml:"slots"`
}

// Collaborative reports whether the condition uses the collaborative style.
func (c *Condition) Collaborative() bool {
	return c.Factors.Style == StyleCollaborative
}

// SlotAt returns the slot at position index of the traversal order.
func (c *Condition) SlotAt(index int) (*Slot, bool) {
	if index < 0 || index >= len(c.Order) {
		return nil, false
	}
	s, ok := c.Slots[c.Order[index]]
	return s, ok
}

// Slot returns the slot with the given id.
func (c *Condition) Slot(id int) (*Slot, bool) {
	s, ok := c.Slots[id]
	return s, ok
}

// RepairAllowed reports whether a clarification request answering prevSlot
// gets a repair reply.
func (c *Condition) RepairAllowed(prevSlot int) bool {
	return prevSlot < c.RepairUntil
}

// EndGated reports whether an answer to s is checked for end intent. Only the
// permission-to-advise (transition) and advice slots are gated.
func (s *Slot) EndGated() bool {
	return s.Kind == KindTransition || s.Kind == KindAdvice
}

// Clarification returns the repair reply for slotID.
func (c *Condition) Clarification(slotID int) string {
	if s, ok := c.Slots[slotID]; ok && s.Clarification != "" {
		return s.Clarification
	}
	return DefaultClarification
}

// IsEnding reports whether text is one of the condition's ending sentences.
func (c *Condition) IsEnding(text string) bool {
	return sentences.EqualAny(text, c.Endings...)
}

// ContainsEnding reports whether one of the condition's ending sentences
// appears anywhere in text, with or without surrounding sentences.
func (c *Condition) ContainsEnding(text string) bool {
	for _, e := range c.Endings {
		if sentences.Contains(text, e) {
			return true
		}
	}
	return false
}

// Table is a validated set of conditions.
type Table struct {
	Definitions Definitions  `yaml:"definitions"`
	Conditions  []*Condition `yaml:"conditions"`

	byID map[string]*Condition
}

// Load reads a YAML condition table from path and returns a validated Table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	t.applyDefaults()
	if err := t.validate(); err != nil {
		return nil, err
	}
	t.byID = make(map[string]*Condition, len(t.Conditions))
	for _, c := range t.Conditions {
		t.byID[c.ID] = c
	}
	return &t, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the embedded condition table. It panics if the embedded
// table is invalid, which is a build defect.
func Default() *Table {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse(defaultYAML)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultTable
}

// applyDefaults fills in slot ids and trims instruction whitespace.
func (t *Table) applyDefaults() {
	for _, c := range t.Conditions {
		for id, s := range c.Slots {
			if s == nil {
				continue
			}
			s.ID = id
			s.Instruction = strings.TrimSpace(s.Instruction)
		}
	}
}

// validate checks that the table is complete and consistent.
func (t *Table) validate() error {
	var errs []string
	if len(t.Conditions) != ConditionCount {
		errs = append(errs, fmt.Sprintf("exactly %d conditions are required, got %d", ConditionCount, len(t.Conditions)))
	}
	seen := make(map[string]bool, len(t.Conditions))
	for i, c := range t.Conditions {
		if c.ID == "" {
			errs = append(errs, fmt.Sprintf("conditions[%d].id is required", i))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Sprintf("conditions[%d].id %q is duplicated", i, c.ID))
		}
		seen[c.ID] = true
		errs = append(errs, c.problems()...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// problems lists what is wrong with a single condition.
func (c *Condition) problems() []string {
	var errs []string
	p := func(format string, args ...any) {
		errs = append(errs, c.ID+": "+fmt.Sprintf(format, args...))
	}
	switch c.Factors.Style {
	case StyleCollaborative, StyleDirective:
	default:
		p("factors.style %q is not collaborative or directive", c.Factors.Style)
	}
	if c.Factors.Type == "" {
		p("factors.type is required")
	}
	if len(c.Order) == 0 {
		p("order is required")
		return errs
	}
	if c.RepairUntil <= 0 {
		p("repair_until must be positive")
	}
	if len(c.Endings) == 0 {
		p("at least one ending sentence is required")
	}
	first, ok := c.Slots[c.Order[0]]
	if !ok || first == nil || first.Kind != KindGreeting || first.FixedText == "" {
		p("the first slot must be a greeting with fixed_text")
	}
	for _, id := range c.Order {
		s, ok := c.Slots[id]
		if !ok || s == nil {
			p("slot %d is in order but not defined", id)
			continue
		}
		if !s.Kind.valid() {
			p("slot %d has unknown kind %q", id, s.Kind)
		}
		if s.Kind != KindGreeting && !s.Templated && s.Instruction == "" {
			p("slot %d needs an instruction", id)
		}
		if s.Kind == KindFollowup && s.Rule == "" {
			p("follow-up slot %d needs a rule letter", id)
		}
		if s.Kind == KindFollowup && c.ConcernFollowup == "" {
			p("follow-up slot %d needs a concern_followup on the condition", id)
		}
	}
	return errs
}

// Get returns the condition with the given id.
func (t *Table) Get(id string) (*Condition, error) {
	c, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCondition, id)
	}
	return c, nil
}

// Pool returns the condition ids in table order.
func (t *Table) Pool() []string {
	ids := make([]string, len(t.Conditions))
	for i, c := range t.Conditions {
		ids[i] = c.ID
	}
	return ids
}

// Pick returns a uniformly drawn condition. intn returns a value in [0, n).
func (t *Table) Pick(intn func(n int) int) *Condition {
	return t.Conditions[intn(len(t.Conditions))]
}
