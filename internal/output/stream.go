package output

import (
	"fmt"
	"io"

	"github.com/KilimcininKorOglu/netdiag/internal/trace"
)

// TraceStreamer writes trace events as they arrive.
type TraceStreamer struct {
	out    io.Writer
	colors *ColorScheme
}

// NewTraceStreamer creates a streamer writing to out.
func NewTraceStreamer(out io.Writer, config Config) *TraceStreamer {
	colors := &ColorScheme{}
	if config.Colors {
		colors = DefaultColorScheme()
	}
	return &TraceStreamer{out: out, colors: colors}
}

// Header writes the line shown before the first event.
func (s *TraceStreamer) Header(host string) error {
	_, err := fmt.Fprintf(s.out, "%s\n\n", paint(s.colors.Header, "traceroute to "+host))
	return err
}

// WriteEvent writes one event in its plain-text rendering.
func (s *TraceStreamer) WriteEvent(ev trace.Event) error {
	text := ev.Render()
	if text == "" {
		return nil
	}

	switch ev.Kind {
	case trace.EventProcessError:
		text = paint(s.colors.Bad, text)
	case trace.EventNonZeroExit, trace.EventTimedOut:
		text = paint(s.colors.Warn, text)
	}

	if _, err := io.WriteString(s.out, text); err != nil {
		return err
	}
	if f, ok := s.out.(interface{ Sync() error }); ok {
		f.Sync()
	}
	return nil
}

// Stream copies every event to the output and returns the number written.
// It keeps draining events after a write error so the producer never blocks.
func (s *TraceStreamer) Stream(events <-chan trace.Event) (int, error) {
	var (
		n        int
		firstErr error
	)
	for ev := range events {
		if firstErr != nil {
			continue
		}
		if err := s.WriteEvent(ev); err != nil {
			firstErr = err
			continue
		}
		n++
	}
	return n, firstErr
}
