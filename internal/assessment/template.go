package assessment

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// AutoCorrectRef names the synthetic template that accepts any response.
const AutoCorrectRef = "auto-correct"

// Template kinds.
const (
	KindMultipleChoice    = "multiple-choice"
	KindMultipleSelection = "multiple-selection"
	KindNumeric           = "numeric"
	KindAutoCorrect       = "auto-correct"
)

// Response is a student's answer to one item. Empty means unanswered.
type Response []string

func (r Response) Answered() bool { return len(r) > 0 }

// ItemTemplate decides correctness and score of a response to one item.
type ItemTemplate interface {
	Ref() string
	Kind() string
	IsCorrect(resp Response) bool
	Score(resp Response) float64
	Solution() Response
}

// Catalog resolves template references.
type Catalog interface {
	Template(ref string) (ItemTemplate, error)
}

// TemplateSpec is the stored form of a built-in template.
type TemplateSpec struct {
	Ref          string
	Kind         string
	Answers      []string
	Points       float64
	Tolerance    float64
	RelTolerance float64
}

// NewTemplate builds a template from its stored form.
func NewTemplate(spec TemplateSpec) (ItemTemplate, error) {
	if spec.Ref == "" {
		return nil, fmt.Errorf("%w: template without ref", ErrInvalidDocument)
	}
	points := spec.Points
	if points <= 0 {
		points = 1
	}
	switch spec.Kind {
	case KindMultipleChoice:
		if len(spec.Answers) != 1 {
			return nil, fmt.Errorf("%w: %s needs exactly one answer", ErrInvalidDocument, spec.Ref)
		}
		return &multipleChoice{ref: spec.Ref, answer: normalize(spec.Answers[0]), points: points}, nil
	case KindMultipleSelection:
		if len(spec.Answers) == 0 {
			return nil, fmt.Errorf("%w: %s needs at least one answer", ErrInvalidDocument, spec.Ref)
		}
		sol := make(Response, 0, len(spec.Answers))
		for _, a := range spec.Answers {
			sol = append(sol, normalize(a))
		}
		return &multipleSelection{ref: spec.Ref, answers: toSet(spec.Answers), solution: sol, points: points}, nil
	case KindNumeric:
		if len(spec.Answers) != 1 {
			return nil, fmt.Errorf("%w: %s needs exactly one answer", ErrInvalidDocument, spec.Ref)
		}
		target, ok := parseFloatLoose(spec.Answers[0])
		if !ok {
			return nil, fmt.Errorf("%w: %s answer %q is not numeric", ErrInvalidDocument, spec.Ref, spec.Answers[0])
		}
		return &numeric{ref: spec.Ref, raw: spec.Answers[0], target: target, tol: spec.Tolerance, relTol: spec.RelTolerance, points: points}, nil
	case KindAutoCorrect:
		return AutoCorrect{}, nil
	default:
		return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidDocument, spec.Ref, spec.Kind)
	}
}

// MemoryCatalog is a Catalog backed by a map. The auto-correct template is
// always resolvable.
type MemoryCatalog struct {
	mu        sync.RWMutex
	templates map[string]ItemTemplate
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{templates: make(map[string]ItemTemplate)}
}

// Add registers t, replacing any template with the same ref.
func (c *MemoryCatalog) Add(t ItemTemplate) {
	c.mu.Lock()
	c.templates[t.Ref()] = t
	c.mu.Unlock()
}

// AddSpecs builds and registers every spec.
func (c *MemoryCatalog) AddSpecs(specs []TemplateSpec) error {
	for _, s := range specs {
		t, err := NewTemplate(s)
		if err != nil {
			return err
		}
		c.Add(t)
	}
	return nil
}

func (c *MemoryCatalog) Template(ref string) (ItemTemplate, error) {
	if ref == AutoCorrectRef {
		return AutoCorrect{}, nil
	}
	c.mu.RLock()
	t, ok := c.templates[ref]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, ref)
	}
	return t, nil
}

// Len reports the number of registered templates.
func (c *MemoryCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

type multipleChoice struct {
	ref    string
	answer string
	points float64
}

func (t *multipleChoice) Ref() string        { return t.ref }
func (t *multipleChoice) Kind() string       { return KindMultipleChoice }
func (t *multipleChoice) Solution() Response { return Response{t.answer} }

func (t *multipleChoice) IsCorrect(resp Response) bool {
	return len(resp) == 1 && normalize(resp[0]) == t.answer
}

func (t *multipleChoice) Score(resp Response) float64 {
	if t.IsCorrect(resp) {
		return t.points
	}
	return 0
}

type multipleSelection struct {
	ref      string
	answers  map[string]struct{}
	solution Response
	points   float64
}

func (t *multipleSelection) Ref() string        { return t.ref }
func (t *multipleSelection) Kind() string       { return KindMultipleSelection }
func (t *multipleSelection) Solution() Response { return t.solution }

func (t *multipleSelection) IsCorrect(resp Response) bool {
	got := toSet(resp)
	if len(got) != len(t.answers) {
		return false
	}
	for a := range got {
		if _, ok := t.answers[a]; !ok {
			return false
		}
	}
	return true
}

func (t *multipleSelection) Score(resp Response) float64 {
	if t.IsCorrect(resp) {
		return t.points
	}
	return 0
}

// numeric accepts an exact string match or a value within tolerance.
type numeric struct {
	ref    string
	raw    string
	target float64
	tol    float64
	relTol float64
	points float64
}

func (t *numeric) Ref() string        { return t.ref }
func (t *numeric) Kind() string       { return KindNumeric }
func (t *numeric) Solution() Response { return Response{t.raw} }

func (t *numeric) IsCorrect(resp Response) bool {
	if len(resp) != 1 {
		return false
	}
	if strings.TrimSpace(resp[0]) == t.raw {
		return true
	}
	v, ok := parseFloatLoose(resp[0])
	if !ok {
		return false
	}
	diff := math.Abs(v - t.target)
	if diff <= t.tol {
		return true
	}
	return t.relTol > 0 && diff <= t.relTol*math.Abs(t.target)
}

func (t *numeric) Score(resp Response) float64 {
	if t.IsCorrect(resp) {
		return t.points
	}
	return 0
}

// AutoCorrect treats every response, including none, as correct. It is
// worth the full points of Inner, the template it stands in for, or 1
// when there is none.
type AutoCorrect struct {
	Inner ItemTemplate
}

func (AutoCorrect) Ref() string             { return AutoCorrectRef }
func (AutoCorrect) Kind() string            { return KindAutoCorrect }
func (AutoCorrect) IsCorrect(Response) bool { return true }
func (AutoCorrect) Solution() Response      { return nil }

func (a AutoCorrect) Score(Response) float64 {
	if a.Inner == nil {
		return 1
	}
	return a.Inner.Score(a.Inner.Solution())
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if n := normalize(v); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if sp := strings.Fields(s); len(sp) > 0 {
		if v, err := strconv.ParseFloat(sp[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
