package trace

import (
	"fmt"
	"strings"
)

// EventKind tags a trace event.
type EventKind int

const (
	// EventChunk carries standard output text
	EventChunk EventKind = iota
	// EventProcessError carries standard error text or a spawn failure
	EventProcessError
	// EventNonZeroExit reports a non-zero exit code (terminal)
	EventNonZeroExit
	// EventTimedOut reports the process was killed at the deadline (terminal)
	EventTimedOut
	// EventDone reports a clean exit (terminal)
	EventDone
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventProcessError:
		return "process_error"
	case EventNonZeroExit:
		return "non_zero_exit"
	case EventTimedOut:
		return "timed_out"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one element of a trace stream.
type Event struct {
	Kind     EventKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`

	// Spawn marks the process error reporting that the program never started
	Spawn bool `json:"spawn,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventNonZeroExit, EventTimedOut, EventDone:
		return true
	}
	return false
}

// Render returns the plain-text form written to streaming clients.
func (e Event) Render() string {
	switch e.Kind {
	case EventChunk:
		return e.Text
	case EventProcessError:
		if e.Spawn {
			return "Failed to start traceroute: " + e.Text
		}
		return "Error: " + e.Text
	case EventNonZeroExit:
		return fmt.Sprintf("\nTraceroute exited with code %d (possible failure or partial route)\n", e.ExitCode)
	case EventTimedOut:
		return "\nTraceroute timed out.\n"
	default:
		return ""
	}
}

// Chunk creates a stdout event.
func Chunk(text string) Event {
	return Event{Kind: EventChunk, Text: text}
}

// ProcessError creates a stderr event.
func ProcessError(message string) Event {
	return Event{Kind: EventProcessError, Text: message}
}

// SpawnError creates the process error for a program that failed to start.
func SpawnError(message string) Event {
	return Event{Kind: EventProcessError, Text: message, Spawn: true}
}

// NonZeroExit creates a non-zero exit event.
func NonZeroExit(code int) Event {
	return Event{Kind: EventNonZeroExit, ExitCode: code}
}

// TimedOut creates a timeout event.
func TimedOut() Event {
	return Event{Kind: EventTimedOut}
}

// Done creates a clean-exit event.
func Done() Event {
	return Event{Kind: EventDone}
}

// Collect drains a stream and returns its events in order.
func Collect(events <-chan Event) []Event {
	var all []Event
	for ev := range events {
		all = append(all, ev)
	}
	return all
}

// Transcript joins the rendered form of events.
func Transcript(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.Render())
	}
	return b.String()
}
