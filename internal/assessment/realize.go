package assessment

import (
	"fmt"
	"time"
)

// Realized is one student's copy of a document: a template selected for
// every item and the responses given so far. It is owned by a single
// session and is not safe for concurrent use.
type Realized struct {
	Doc        *Document
	Serial     int64
	RealizedAt time.Time
	Items      []RealizedItem
}

type RealizedItem struct {
	ItemID   int
	Section  int
	Weight   float64
	Template ItemTemplate
	Response Response
}

// Pick is the persisted form of one realized item.
type Pick struct {
	ItemID   int
	Ref      string
	Response Response
}

// Realize selects a template for every item of doc. Alternatives are chosen
// from the serial number so a given serial always realizes identically.
// Items listed in autoCorrect get the auto-correct template instead, worth
// the points of the template they would otherwise have selected.
func Realize(doc *Document, cat Catalog, serial int64, at time.Time, autoCorrect map[int]bool) (*Realized, error) {
	r := &Realized{Doc: doc, Serial: serial, RealizedAt: at}
	pos := 0
	for si, sec := range doc.Sections {
		for _, it := range sec.Items {
			t, err := selectTemplate(cat, it, serial, pos)
			if err != nil {
				return nil, fmt.Errorf("realize %s item %d: %w", doc.Version, it.ID, err)
			}
			if autoCorrect[it.ID] {
				t = AutoCorrect{Inner: t}
			}
			r.Items = append(r.Items, RealizedItem{ItemID: it.ID, Section: si, Weight: it.Weight, Template: t})
			pos++
		}
	}
	return r, nil
}

func selectTemplate(cat Catalog, it Item, serial int64, pos int) (ItemTemplate, error) {
	return cat.Template(it.Choices[choiceIndex(serial, pos, len(it.Choices))])
}

// Reassemble rebuilds a realized document from persisted picks.
func Reassemble(doc *Document, cat Catalog, serial int64, at time.Time, picks []Pick) (*Realized, error) {
	byID := make(map[int]Pick, len(picks))
	for _, p := range picks {
		byID[p.ItemID] = p
	}
	r := &Realized{Doc: doc, Serial: serial, RealizedAt: at}
	pos := 0
	for si, sec := range doc.Sections {
		for _, it := range sec.Items {
			p, ok := byID[it.ID]
			if !ok {
				return nil, fmt.Errorf("reassemble %s: no selection for item %d", doc.Version, it.ID)
			}
			var (
				t   ItemTemplate
				err error
			)
			if p.Ref == AutoCorrectRef {
				t, err = selectTemplate(cat, it, serial, pos)
				t = AutoCorrect{Inner: t}
			} else {
				t, err = cat.Template(p.Ref)
			}
			if err != nil {
				return nil, fmt.Errorf("reassemble %s item %d: %w", doc.Version, it.ID, err)
			}
			r.Items = append(r.Items, RealizedItem{ItemID: it.ID, Section: si, Weight: it.Weight, Template: t, Response: p.Response})
			pos++
		}
	}
	return r, nil
}

// Picks returns the persisted form of every item.
func (r *Realized) Picks() []Pick {
	out := make([]Pick, len(r.Items))
	for i, it := range r.Items {
		out[i] = Pick{ItemID: it.ItemID, Ref: it.Template.Ref(), Response: it.Response}
	}
	return out
}

// Len is the number of navigable items.
func (r *Realized) Len() int { return len(r.Items) }

// SetResponse records resp for the item at index i.
func (r *Realized) SetResponse(i int, resp Response) bool {
	if i < 0 || i >= len(r.Items) {
		return false
	}
	r.Items[i].Response = resp
	return true
}

// Answered reports, per index, whether a response is present.
func (r *Realized) Answered() []bool {
	out := make([]bool, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Response.Answered()
	}
	return out
}

func choiceIndex(serial int64, pos, n int) int {
	if n <= 1 {
		return 0
	}
	idx := (serial + int64(pos)) % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return int(idx)
}
