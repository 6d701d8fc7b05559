package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/KilimcininKorOglu/netdiag/internal/trace"
)

// Run starts the trace viewer for host and blocks until the user quits.
func Run(ctx context.Context, host string, tracer *trace.Tracer, styles Styles) error {
	model := New(ctx, host, tracer)
	model.SetStyles(styles)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	finalModel, err := p.Run()

	// The final model owns the session; the initial one never saw it.
	final, ok := finalModel.(Model)
	if !ok {
		final = *model
	}
	final.Close()

	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	if final.state == StateError && final.err != nil {
		return final.err
	}
	return nil
}
