// ABOUTME: Terminal dashboard program for a running server
// ABOUTME: Pumps bus events into a bubbletea program until quit or cancellation
package dashboard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AutoBreezeBeats/breezebeats/internal/bus"
	tea "github.com/charmbracelet/bubbletea"
)

// Dashboard runs the terminal dashboard
type Dashboard struct {
	bus     *bus.Bus
	sources Sources
	logger  *slog.Logger
	options []tea.ProgramOption
}

// New creates a dashboard. Program options replace the default alt-screen
// setup when given.
func New(b *bus.Bus, sources Sources, logger *slog.Logger, options ...tea.ProgramOption) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	if len(options) == 0 {
		options = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &Dashboard{
		bus:     b,
		sources: sources,
		logger:  logger,
		options: options,
	}
}

// Run blocks until the user quits or ctx is cancelled. A user quit returns
// nil; callers cancel the rest of the process themselves.
func (d *Dashboard) Run(ctx context.Context) error {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, d.options...)
	program := tea.NewProgram(NewModel(d.sources), opts...)

	pumpCtx, stop := context.WithCancel(ctx)
	defer stop()
	go d.pump(pumpCtx, program)

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// pump forwards bus events to the program. A subscription dropped for falling
// behind is replaced; the next snapshot catches the model up.
func (d *Dashboard) pump(ctx context.Context, program *tea.Program) {
	for {
		sub := d.bus.Register("dashboard")
		if !d.forward(ctx, sub, program) {
			d.bus.Unregister(sub)
			return
		}
		d.logger.Warn("dashboard fell behind the event bus, resubscribing")
	}
}

func (d *Dashboard) forward(ctx context.Context, sub *bus.Subscription, program *tea.Program) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return true
			}
			program.Send(eventMsg(ev))
		}
	}
}
