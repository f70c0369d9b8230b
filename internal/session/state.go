package session

import (
	"fmt"
)

// State is the position of a session in its lifecycle. The concrete types
// below are the only implementations.
type State interface {
	name() string
}

// Initial is a session that has not passed eligibility yet.
type Initial struct{}

// Instructions shows the assessment instructions.
type Instructions struct{}

// Item shows item Index.
type Item struct{ Index int }

// SubmitConfirm asks the student to confirm submission. Last is the item to
// return to on "no".
type SubmitConfirm struct{ Last int }

// Completed has been scored.
type Completed struct{}

// Solution reviews item Index after completion. Index -1 shows instructions.
type Solution struct{ Index int }

func (Initial) name() string       { return "INITIAL" }
func (Instructions) name() string  { return "INSTRUCTIONS" }
func (Item) name() string          { return "ITEM" }
func (SubmitConfirm) name() string { return "SUBMIT" }
func (Completed) name() string     { return "COMPLETED" }
func (Solution) name() string      { return "SOLUTION" }

// StateName returns the persisted name of st.
func StateName(st State) string {
	if st == nil {
		return Initial{}.name()
	}
	return st.name()
}

// CurrentItem is the cursor carried by st, or -1.
func CurrentItem(st State) int {
	switch s := st.(type) {
	case Item:
		return s.Index
	case SubmitConfirm:
		return s.Last
	case Solution:
		return s.Index
	default:
		return -1
	}
}

// ParseState rebuilds a State from its persisted name and cursor.
func ParseState(name string, cur int) (State, error) {
	switch name {
	case "INITIAL":
		return Initial{}, nil
	case "INSTRUCTIONS":
		return Instructions{}, nil
	case "ITEM":
		return Item{Index: cur}, nil
	case "SUBMIT":
		return SubmitConfirm{Last: cur}, nil
	case "COMPLETED":
		return Completed{}, nil
	case "SOLUTION":
		return Solution{Index: cur}, nil
	}
	return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidRecord, name)
}

// Interacting reports whether st is mid-attempt with answers at stake.
func Interacting(st State) bool {
	switch st.(type) {
	case Item, SubmitConfirm:
		return true
	}
	return false
}

// ActionKind enumerates what a student or the system can ask of a session.
type ActionKind int

const (
	ActRender ActionKind = iota
	ActBegin
	ActNavigate
	ActInstructions
	ActRequestSubmit
	ActConfirmNo
	ActConfirmYes
	ActTimeout
	ActViewSolutions
	ActClose
)

var actionNames = map[string]ActionKind{
	"render":       ActRender,
	"begin":        ActBegin,
	"navigate":     ActNavigate,
	"instructions": ActInstructions,
	"submit":       ActRequestSubmit,
	"confirm-no":   ActConfirmNo,
	"confirm-yes":  ActConfirmYes,
	"timeout":      ActTimeout,
	"solutions":    ActViewSolutions,
	"close":        ActClose,
}

// ParseActionKind maps a wire name to its ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	k, ok := actionNames[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return k, nil
}

func (k ActionKind) String() string {
	for name, v := range actionNames {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("action(%d)", int(k))
}
