package session

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/assessment"
)

// Record is the persisted form of a session.
type Record struct {
	XMLName           xml.Name  `xml:"assessment-session"`
	Interaction       string    `xml:"interaction"`
	Student           string    `xml:"student"`
	Assessment        string    `xml:"assessment-id"`
	Redirect          string    `xml:"redirect"`
	State             string    `xml:"state"`
	CurItem           *int      `xml:"cur-item"`
	Started           *struct{} `xml:"started"`
	Scored            *struct{} `xml:"scored"`
	Passed            *bool     `xml:"passed,omitempty"`
	Proctored         *struct{} `xml:"proctored"`
	Score             *int      `xml:"score,omitempty"`
	Mastery           *int      `xml:"mastery,omitempty"`
	Error             string    `xml:"error,omitempty"`
	Timeout           *int64    `xml:"timeout"`
	StartInstructions *int64    `xml:"start-instructions,omitempty"`
	TimeLimitFactor   float64   `xml:"time-limit-factor,omitempty"`
	Serial            int64     `xml:"serial,omitempty"`
	RealizedAt        int64     `xml:"realized-at,omitempty"`
	Holds             []string  `xml:"hold"`
	Document          recordDoc `xml:"document"`
	Selected          []xmlPick `xml:"selected-item"`
}

type recordDoc struct {
	Inner []byte `xml:",innerxml"`
}

type xmlPick struct {
	Item   int      `xml:"item,attr"`
	Ref    string   `xml:"ref,attr"`
	Values []string `xml:"value"`
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Record snapshots the session for persistence.
func (s *Session) Record() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Session) recordLocked() *Record {
	cur := CurrentItem(s.state)
	timeout := unixMilli(s.deadline)
	rec := &Record{
		Interaction:     s.interactionID,
		Student:         s.studentID,
		Assessment:      s.doc.Version,
		Redirect:        s.redirect,
		State:           StateName(s.state),
		CurItem:         &cur,
		Score:           s.score,
		Mastery:         s.mastery,
		Passed:          s.passed,
		Error:           s.gradingError,
		Timeout:         &timeout,
		TimeLimitFactor: s.timeLimitFactor,
		Holds:           s.holds,
	}
	if s.started {
		rec.Started = &struct{}{}
	}
	if s.scored {
		rec.Scored = &struct{}{}
	}
	if s.proctored {
		rec.Proctored = &struct{}{}
	}
	if !s.instructionsViewedAt.IsZero() {
		ms := unixMilli(s.instructionsViewedAt)
		rec.StartInstructions = &ms
	}
	if b, err := assessment.EncodeBytes(s.doc); err == nil {
		rec.Document.Inner = b
	}
	if s.realized != nil {
		rec.Serial = s.realized.Serial
		rec.RealizedAt = unixMilli(s.realized.RealizedAt)
		for _, p := range s.realized.Picks() {
			rec.Selected = append(rec.Selected, xmlPick{Item: p.ItemID, Ref: p.Ref, Values: p.Response})
		}
	}
	return rec
}

// FromRecord rebuilds a session. Templates are re-resolved through cat.
func FromRecord(rec *Record, cat assessment.Catalog, log zerolog.Logger) (*Session, error) {
	switch {
	case rec.Interaction == "":
		return nil, fmt.Errorf("%w: missing interaction", ErrInvalidRecord)
	case rec.Student == "":
		return nil, fmt.Errorf("%w: missing student", ErrInvalidRecord)
	case rec.Assessment == "":
		return nil, fmt.Errorf("%w: missing assessment-id", ErrInvalidRecord)
	case rec.State == "":
		return nil, fmt.Errorf("%w: missing state", ErrInvalidRecord)
	case rec.CurItem == nil:
		return nil, fmt.Errorf("%w: missing cur-item", ErrInvalidRecord)
	case rec.Timeout == nil:
		return nil, fmt.Errorf("%w: missing timeout", ErrInvalidRecord)
	case len(rec.Document.Inner) == 0:
		return nil, fmt.Errorf("%w: missing document", ErrInvalidRecord)
	}

	st, err := ParseState(rec.State, *rec.CurItem)
	if err != nil {
		return nil, err
	}
	doc, err := assessment.DecodeBytes(rec.Document.Inner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if doc.Version != rec.Assessment {
		return nil, fmt.Errorf("%w: document %s does not match assessment-id %s", ErrInvalidRecord, doc.Version, rec.Assessment)
	}

	s := New(rec.Interaction, rec.Student, doc, rec.Redirect)
	s.state = st
	s.started = rec.Started != nil
	s.scored = rec.Scored != nil
	s.proctored = rec.Proctored != nil
	s.score = rec.Score
	s.mastery = rec.Mastery
	s.passed = rec.Passed
	s.gradingError = rec.Error
	s.deadline = fromUnixMilli(*rec.Timeout)
	s.timeLimitFactor = rec.TimeLimitFactor
	s.holds = rec.Holds
	if rec.StartInstructions == nil {
		log.Warn().Str("interaction", rec.Interaction).Str("assessment", rec.Assessment).
			Msg("Session record has no start-instructions, defaulting to zero")
	} else {
		s.instructionsViewedAt = fromUnixMilli(*rec.StartInstructions)
	}

	if len(rec.Selected) > 0 {
		picks := make([]assessment.Pick, len(rec.Selected))
		for i, p := range rec.Selected {
			picks[i] = assessment.Pick{ItemID: p.Item, Ref: p.Ref, Response: p.Values}
		}
		realized, err := assessment.Reassemble(doc, cat, rec.Serial, fromUnixMilli(rec.RealizedAt), picks)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		s.realized = realized
	} else if _, initial := st.(Initial); !initial {
		return nil, fmt.Errorf("%w: state %s without selected items", ErrInvalidRecord, rec.State)
	}
	return s, nil
}

type recordFile struct {
	XMLName xml.Name  `xml:"assessment-sessions"`
	Records []*Record `xml:"assessment-session"`
}

// WriteRecords writes recs as one <assessment-sessions> document.
func WriteRecords(w io.Writer, recs []*Record) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(recordFile{Records: recs}); err != nil {
		return fmt.Errorf("encode session records: %w", err)
	}
	return enc.Flush()
}

// ReadRecords streams every <assessment-session> element to fn. A record
// that fails to decode is reported to onErr and skipped.
func ReadRecords(r io.Reader, fn func(*Record), onErr func(error)) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read session records: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "assessment-session" {
			continue
		}
		var rec Record
		if err := dec.DecodeElement(&rec, &start); err != nil {
			var syn *xml.SyntaxError
			if errors.As(err, &syn) {
				return fmt.Errorf("read session records: %w", err)
			}
			onErr(fmt.Errorf("%w: %v", ErrInvalidRecord, err))
			continue
		}
		fn(&rec)
	}
}
