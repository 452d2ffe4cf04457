package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

// newReplCommand opens a line-edited console for manual `tick`/`step`/
// `advance` control over a running scenario, the terminal operator's
// replacement for clicking the canvas's runtime buttons.
func newReplCommand() *cobra.Command {
	var execMode bool

	cmd := &cobra.Command{
		Use:   "repl <scenario.yaml>",
		Short: "Interactive console: tick/step/advance/state/quit",
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

			homeDir, _ := os.UserHomeDir()
			historyFile := filepath.Join(homeDir, ".canvas-sim-history")

			rl, err := readline.NewEx(&readline.Config{
				Prompt:            "canvas> ",
				HistoryFile:       historyFile,
				InterruptPrompt:   "^C",
				EOFPrompt:         "exit",
				HistorySearchFold: true,
				UniqueEditLine:    true,
				Stdin:             readline.NewCancelableStdin(os.Stdin),
				Stdout:            os.Stdout,
				Stderr:            os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("repl: init readline: %w", err)
			}
			defer rl.Close()

			fmt.Println("canvas-sim repl — commands: tick, step N, advance N, state, quit")
			ctx := context.Background()
			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt {
					if len(line) == 0 {
						break
					}
					continue
				} else if err == io.EOF {
					break
				}
				if err := runReplCommand(ctx, rt, execMode, strings.TrimSpace(line)); err != nil {
					if err == errReplQuit {
						break
					}
					fmt.Printf("error: %v\n", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&execMode, "exec", true, "run in script-execution mode instead of happy-path auto-advance")
	return cmd
}

var errReplQuit = fmt.Errorf("repl: quit")

func runReplCommand(ctx context.Context, rt *runtime, execMode bool, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "quit", "exit", "q":
		return errReplQuit
	case "tick":
		return runTick(ctx, rt, execMode)
	case "advance", "step":
		n := 1
		if len(fields) > 1 {
			parsed, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("invalid tick count %q", fields[1])
			}
			n = parsed
		}
		for i := 0; i < n; i++ {
			if err := runTick(ctx, rt, execMode); err != nil {
				return err
			}
		}
		return nil
	case "state":
		state := rt.store.State()
		fmt.Printf("tick=%d virtualTimeMs=%d agents=%d connections=%d\n",
			state.Tick, state.VirtualTimeMs, len(state.Agents), len(state.Connections))
		return nil
	default:
		return fmt.Errorf("unknown command %q (try: tick, step N, advance N, state, quit)", fields[0])
	}
}

func runTick(ctx context.Context, rt *runtime, execMode bool) error {
	var err error
	if execMode {
		err = rt.orch.RunExecutionTick(ctx)
	} else {
		err = rt.orch.RunHappyPathTick(ctx)
	}
	if err != nil {
		return err
	}
	printNewEvents(rt.store.State(), int(rt.store.State().Tick))
	return nil
}
