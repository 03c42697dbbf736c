package bridge

import (
	"fmt"

	"github.com/temoto/enomesh/internal/ptm"
)

type EventKind uint8

const (
	EventInvalid EventKind = iota
	EventFrame
	EventPress
	EventFunc
	EventCheckpoint
	EventPersist
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventPress:
		return "press"
	case EventFunc:
		return "func"
	case EventCheckpoint:
		return "checkpoint"
	case EventPersist:
		return "persist"
	}
	return "invalid"
}

type Event struct {
	Kind   EventKind
	Frame  ptm.Frame // EventFrame
	Source string    // EventPress: gpio, input, console
	Func   func()    // EventFunc
}

func (e *Event) String() string {
	inner := ""
	switch e.Kind {
	case EventFrame:
		inner = " " + e.Frame.String()
	case EventPress:
		inner = " source=" + e.Source
	}
	return fmt.Sprintf("Event(%s%s)", e.Kind.String(), inner)
}
