package events

import (
	"time"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// EventType classifies resolver events.
type EventType int

const (
	EvResolve     EventType = iota // Top-level evaluation finished
	EvSyntaxError                  // Evaluation aborted by a parse error
	EvOpFailure                    // One operator degraded to an empty set
	EvBind                         // A variable was bound for an actor
	EvBlueprint                    // A library blueprint changed on disk
	EvResolveError                 // Evaluation aborted by a non-syntax error
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvResolve:
		return "resolve"
	case EvSyntaxError:
		return "syntax_error"
	case EvOpFailure:
		return "op_failure"
	case EvBind:
		return "bind"
	case EvBlueprint:
		return "blueprint"
	case EvResolveError:
		return "resolve_error"
	default:
		return "unknown"
	}
}

// Event is a structured resolver event that flows through the bus.
type Event struct {
	Type     EventType
	Actor    gamedb.DBRef   // Whose evaluation (Nothing for world events)
	Spec     string         // The ospec, or program name for EvBlueprint
	Op       string         // Operator or variable name
	Refs     []gamedb.DBRef // Result set / bound value
	Err      string
	Duration time.Duration
	Time     time.Time
}
