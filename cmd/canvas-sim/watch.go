package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	watchConnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	watchErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// newWatchCommand opens a live terminal dashboard that advances the
// simulation on its own virtual clock and renders agents/connections/events
// as they change — the terminal operator's replacement for the canvas UI.
func newWatchCommand() *cobra.Command {
	var execMode bool
	var speed float64

	cmd := &cobra.Command{
		Use:   "watch <scenario.yaml>",
		Short: "Run a scenario live in a terminal dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(args[0], cfg, newLogger(), nil)
			if err != nil {
				return err
			}
			beginRecording(rt.store)

			if speed <= 0 {
				speed = 1
			}
			interval := time.Duration(float64(cfg.TickIntervalMs) / speed * float64(time.Millisecond))

			m := watchModel{rt: rt, execMode: execMode, interval: interval, viewport: viewport.New(80, 20)}
			p := tea.NewProgram(m)
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&execMode, "exec", true, "run in script-execution mode instead of happy-path auto-advance")
	cmd.Flags().Float64Var(&speed, "speed", 1, "virtual-clock speed multiplier")
	return cmd
}

type watchTickMsg struct{}

type watchModel struct {
	rt       *runtime
	execMode bool
	interval time.Duration
	viewport viewport.Model
	tick     int64
	err      error
}

func (m watchModel) Init() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return watchTickMsg{} })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case watchTickMsg:
		var err error
		if m.execMode {
			err = m.rt.orch.RunExecutionTick(context.Background())
		} else {
			err = m.rt.orch.RunHappyPathTick(context.Background())
		}
		if err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.tick++
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return watchTickMsg{} })
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.err != nil {
		return watchErrStyle.Render(fmt.Sprintf("tick %d failed: %v\n", m.tick, m.err))
	}

	state := m.rt.store.State()
	var b strings.Builder
	fmt.Fprintf(&b, "%s  virtual=%dms  (q to quit)\n\n", watchHeaderStyle.Render(fmt.Sprintf("tick %d", state.Tick)), state.VirtualTimeMs)

	agentIDs := make([]string, 0, len(state.Agents))
	for id := range state.Agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	fmt.Fprintln(&b, watchHeaderStyle.Render("agents"))
	for _, id := range agentIDs {
		a := state.Agents[id]
		fmt.Fprintf(&b, "  %-10s %-10s %-9s balance=%d\n", a.ID, a.Type, a.Status, a.BalanceMic)
	}

	connIDs := make([]string, 0, len(state.Connections))
	for id := range state.Connections {
		connIDs = append(connIDs, id)
	}
	sort.Strings(connIDs)
	fmt.Fprintln(&b, watchHeaderStyle.Render("connections"))
	for _, id := range connIDs {
		c := state.Connections[id]
		fmt.Fprintln(&b, watchConnStyle.Render(fmt.Sprintf("  %-8s %s -> %s [%s] %d", c.ID, c.SourceID, c.TargetID, c.State, c.AmountMic)))
	}

	fmt.Fprintln(&b, watchHeaderStyle.Render("events"))
	start := 0
	if n := len(state.Events); n > 8 {
		start = n - 8
	}
	for _, ev := range state.Events[start:] {
		fmt.Fprintf(&b, "  %s %s\n", colorize(ev), eventMessage(ev))
	}

	return b.String()
}
