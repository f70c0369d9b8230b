// Package assessment models one immutable version of an assessment: its
// items, subtests, grading rules and outcome rules.
package assessment

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-assess/internal/formula"
)

var (
	ErrInvalidDocument  = errors.New("invalid assessment document")
	ErrTemplateNotFound = errors.New("item template not found")
)

// Exam types.
const (
	TypeUnit   = "U"
	TypeFinal  = "F"
	TypeQuiz   = "Q"
	TypeReview = "R"
)

// Document is a loaded assessment version. It is never mutated after load.
type Document struct {
	Version        string
	Course         string
	Unit           int
	Type           string
	Title          string
	AllowedSeconds int64
	Mastery        *int

	Sections     []Section
	Subtests     []Subtest
	GradingRules []GradingRule
	Outcomes     []Outcome
}

type Section struct {
	Name  string
	Items []Item
}

// Item is one slot in the assessment. Choices are alternative template
// references; realization picks exactly one.
type Item struct {
	ID      int
	Weight  float64
	Choices []string
}

type Subtest struct {
	Name  string
	Items []SubtestItem
}

type SubtestItem struct {
	ItemID int
	Weight float64
}

type GradingRule struct {
	Name    string
	Formula Condition
}

// Outcome awards its actions when Condition holds, prerequisites pass and a
// validation succeeds.
type Outcome struct {
	Condition   Condition
	Prereqs     []Condition
	Validations []Validation
	Actions     []Action
	LogDenial   bool
}

type Validation struct {
	HowValidated string
	Formula      Condition
}

type ActionKind string

const (
	ActionPlacement ActionKind = "placement"
	ActionCredit    ActionKind = "credit"
	ActionLicensed  ActionKind = "licensed"
)

type Action struct {
	Kind   ActionKind
	Course string
}

// Condition is a formula kept together with its source. A formula that
// failed to parse keeps the parse error and fails every evaluation.
type Condition struct {
	Source string
	Expr   *formula.Expr
	Err    error
}

// NewCondition parses src; parse failures are retained rather than returned.
func NewCondition(src string) Condition {
	e, err := formula.Parse(src)
	return Condition{Source: src, Expr: e, Err: err}
}

// Bool evaluates the condition as a boolean.
func (c Condition) Bool(env formula.Env) (bool, error) {
	if c.Err != nil {
		return false, c.Err
	}
	if c.Expr == nil {
		return false, fmt.Errorf("%w: empty formula", formula.ErrSyntax)
	}
	return c.Expr.EvalBool(env)
}

// ItemIDs returns item IDs in presentation order.
func (d *Document) ItemIDs() []int {
	var ids []int
	for _, s := range d.Sections {
		for _, it := range s.Items {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// NumItems is the count of items over all sections.
func (d *Document) NumItems() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Items)
	}
	return n
}

// Subtest returns the named subtest.
func (d *Document) Subtest(name string) (Subtest, bool) {
	for _, st := range d.Subtests {
		if st.Name == name {
			return st, true
		}
	}
	return Subtest{}, false
}

// Validate checks structural invariants: a version, unique item IDs, at
// least one choice per item and subtests that only reference known items.
func (d *Document) Validate() error {
	if d.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidDocument)
	}
	seen := make(map[int]struct{})
	for _, s := range d.Sections {
		for _, it := range s.Items {
			if _, dup := seen[it.ID]; dup {
				return fmt.Errorf("%w: duplicate item id %d", ErrInvalidDocument, it.ID)
			}
			seen[it.ID] = struct{}{}
			if len(it.Choices) == 0 {
				return fmt.Errorf("%w: item %d has no template", ErrInvalidDocument, it.ID)
			}
		}
	}
	if len(seen) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidDocument)
	}
	for _, st := range d.Subtests {
		for _, ref := range st.Items {
			if _, ok := seen[ref.ItemID]; !ok {
				return fmt.Errorf("%w: subtest %s references unknown item %d", ErrInvalidDocument, st.Name, ref.ItemID)
			}
		}
	}
	return nil
}
