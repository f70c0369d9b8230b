package assessment

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

type xmlDocument struct {
	XMLName        xml.Name         `xml:"assessment"`
	Version        string           `xml:"version,attr"`
	Course         string           `xml:"course,attr,omitempty"`
	Unit           int              `xml:"unit,attr,omitempty"`
	Type           string           `xml:"type,attr,omitempty"`
	Title          string           `xml:"title,attr,omitempty"`
	AllowedSeconds int64            `xml:"allowed-seconds,attr,omitempty"`
	Mastery        *int             `xml:"mastery,attr,omitempty"`
	Sections       []xmlSection     `xml:"section"`
	Subtests       []xmlSubtest     `xml:"subtest"`
	GradingRules   []xmlGradingRule `xml:"grading-rule"`
	Outcomes       []xmlOutcome     `xml:"outcome"`
}

type xmlSection struct {
	Name  string    `xml:"name,attr,omitempty"`
	Items []xmlItem `xml:"item"`
}

type xmlItem struct {
	ID      int         `xml:"id,attr"`
	Weight  *float64    `xml:"weight,attr,omitempty"`
	Choices []xmlChoice `xml:"choice"`
}

type xmlChoice struct {
	Ref string `xml:"ref,attr"`
}

type xmlSubtest struct {
	Name  string           `xml:"name,attr"`
	Items []xmlSubtestItem `xml:"ref"`
}

type xmlSubtestItem struct {
	Item   int      `xml:"item,attr"`
	Weight *float64 `xml:"weight,attr,omitempty"`
}

type xmlGradingRule struct {
	Name    string `xml:"name,attr"`
	Formula string `xml:",chardata"`
}

type xmlOutcome struct {
	LogDenial   bool            `xml:"log-denial,attr,omitempty"`
	Condition   string          `xml:"condition"`
	Prereqs     []string        `xml:"prereq"`
	Validations []xmlValidation `xml:"validation"`
	Placements  []xmlCourse     `xml:"placement"`
	Credits     []xmlCourse     `xml:"credit"`
	Licensed    *struct{}       `xml:"licensed"`
}

type xmlValidation struct {
	How     string `xml:"how,attr"`
	Formula string `xml:",chardata"`
}

type xmlCourse struct {
	Course string `xml:"course,attr"`
}

// Decode reads one <assessment> element and validates it.
func Decode(r io.Reader) (*Document, error) {
	var x xmlDocument
	if err := xml.NewDecoder(r).Decode(&x); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	doc := fromXML(&x)
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(b []byte) (*Document, error) {
	return Decode(bytes.NewReader(b))
}

// Encode writes doc as an <assessment> element.
func Encode(w io.Writer, doc *Document) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(toXML(doc)); err != nil {
		return fmt.Errorf("encode assessment %s: %w", doc.Version, err)
	}
	return enc.Flush()
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fromXML(x *xmlDocument) *Document {
	doc := &Document{
		Version:        strings.TrimSpace(x.Version),
		Course:         x.Course,
		Unit:           x.Unit,
		Type:           x.Type,
		Title:          x.Title,
		AllowedSeconds: x.AllowedSeconds,
		Mastery:        x.Mastery,
	}
	for _, xs := range x.Sections {
		sec := Section{Name: xs.Name}
		for _, xi := range xs.Items {
			it := Item{ID: xi.ID, Weight: weightOr1(xi.Weight)}
			for _, c := range xi.Choices {
				it.Choices = append(it.Choices, strings.TrimSpace(c.Ref))
			}
			sec.Items = append(sec.Items, it)
		}
		doc.Sections = append(doc.Sections, sec)
	}
	for _, xs := range x.Subtests {
		st := Subtest{Name: xs.Name}
		for _, ref := range xs.Items {
			st.Items = append(st.Items, SubtestItem{ItemID: ref.Item, Weight: weightOr1(ref.Weight)})
		}
		doc.Subtests = append(doc.Subtests, st)
	}
	for _, xr := range x.GradingRules {
		doc.GradingRules = append(doc.GradingRules, GradingRule{
			Name:    xr.Name,
			Formula: NewCondition(strings.TrimSpace(xr.Formula)),
		})
	}
	for _, xo := range x.Outcomes {
		o := Outcome{
			Condition: NewCondition(strings.TrimSpace(xo.Condition)),
			LogDenial: xo.LogDenial,
		}
		for _, p := range xo.Prereqs {
			o.Prereqs = append(o.Prereqs, NewCondition(strings.TrimSpace(p)))
		}
		for _, v := range xo.Validations {
			o.Validations = append(o.Validations, Validation{
				HowValidated: v.How,
				Formula:      NewCondition(strings.TrimSpace(v.Formula)),
			})
		}
		for _, c := range xo.Placements {
			o.Actions = append(o.Actions, Action{Kind: ActionPlacement, Course: c.Course})
		}
		for _, c := range xo.Credits {
			o.Actions = append(o.Actions, Action{Kind: ActionCredit, Course: c.Course})
		}
		if xo.Licensed != nil {
			o.Actions = append(o.Actions, Action{Kind: ActionLicensed})
		}
		doc.Outcomes = append(doc.Outcomes, o)
	}
	return doc
}

func toXML(doc *Document) *xmlDocument {
	x := &xmlDocument{
		Version:        doc.Version,
		Course:         doc.Course,
		Unit:           doc.Unit,
		Type:           doc.Type,
		Title:          doc.Title,
		AllowedSeconds: doc.AllowedSeconds,
		Mastery:        doc.Mastery,
	}
	for _, sec := range doc.Sections {
		xs := xmlSection{Name: sec.Name}
		for _, it := range sec.Items {
			w := it.Weight
			xi := xmlItem{ID: it.ID, Weight: &w}
			for _, c := range it.Choices {
				xi.Choices = append(xi.Choices, xmlChoice{Ref: c})
			}
			xs.Items = append(xs.Items, xi)
		}
		x.Sections = append(x.Sections, xs)
	}
	for _, st := range doc.Subtests {
		xs := xmlSubtest{Name: st.Name}
		for _, ref := range st.Items {
			w := ref.Weight
			xs.Items = append(xs.Items, xmlSubtestItem{Item: ref.ItemID, Weight: &w})
		}
		x.Subtests = append(x.Subtests, xs)
	}
	for _, r := range doc.GradingRules {
		x.GradingRules = append(x.GradingRules, xmlGradingRule{Name: r.Name, Formula: r.Formula.Source})
	}
	for _, o := range doc.Outcomes {
		xo := xmlOutcome{Condition: o.Condition.Source, LogDenial: o.LogDenial}
		for _, p := range o.Prereqs {
			xo.Prereqs = append(xo.Prereqs, p.Source)
		}
		for _, v := range o.Validations {
			xo.Validations = append(xo.Validations, xmlValidation{How: v.HowValidated, Formula: v.Formula.Source})
		}
		for _, a := range o.Actions {
			switch a.Kind {
			case ActionPlacement:
				xo.Placements = append(xo.Placements, xmlCourse{Course: a.Course})
			case ActionCredit:
				xo.Credits = append(xo.Credits, xmlCourse{Course: a.Course})
			case ActionLicensed:
				xo.Licensed = &struct{}{}
			}
		}
		x.Outcomes = append(x.Outcomes, xo)
	}
	return x
}

func weightOr1(w *float64) float64 {
	if w == nil {
		return 1
	}
	return *w
}

type xmlTemplates struct {
	XMLName   xml.Name      `xml:"item-templates"`
	Templates []xmlTemplate `xml:"template"`
}

type xmlTemplate struct {
	Ref          string   `xml:"ref,attr"`
	Kind         string   `xml:"kind,attr"`
	Points       float64  `xml:"points,attr,omitempty"`
	Tolerance    float64  `xml:"tol,attr,omitempty"`
	RelTolerance float64  `xml:"reltol,attr,omitempty"`
	Answers      []string `xml:"answer"`
}

// DecodeTemplates reads an <item-templates> file.
func DecodeTemplates(r io.Reader) ([]TemplateSpec, error) {
	var x xmlTemplates
	if err := xml.NewDecoder(r).Decode(&x); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	specs := make([]TemplateSpec, 0, len(x.Templates))
	for _, t := range x.Templates {
		spec := TemplateSpec{
			Ref:          strings.TrimSpace(t.Ref),
			Kind:         t.Kind,
			Points:       t.Points,
			Tolerance:    t.Tolerance,
			RelTolerance: t.RelTolerance,
		}
		for _, a := range t.Answers {
			spec.Answers = append(spec.Answers, strings.TrimSpace(a))
		}
		if _, err := NewTemplate(spec); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
