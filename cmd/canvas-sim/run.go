package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agirails/canvas-core/internal/canvas/domain"
)

func newRunCommand() *cobra.Command {
	var ticks int
	var outPath string
	var execMode bool

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario for a fixed number of ticks and print its runtime events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()

			rt, err := newRuntime(args[0], cfg, logger, nil)
			if err != nil {
				return err
			}
			beginRecording(rt.store)

			ctx := context.Background()
			for i := 0; i < ticks; i++ {
				if execMode {
					err = rt.orch.RunExecutionTick(ctx)
				} else {
					err = rt.orch.RunHappyPathTick(ctx)
				}
				if err != nil {
					return fmt.Errorf("tick %d: %w", i, err)
				}
				printNewEvents(rt.store.State(), i)
			}

			if outPath != "" {
				data, err := json.MarshalIndent(rt.store.Log(), "", "  ")
				if err != nil {
					return fmt.Errorf("marshal event log: %w", err)
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("write event log: %w", err)
				}
				fmt.Printf("wrote %d events to %s\n", len(rt.store.Log().Events), outPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&ticks, "ticks", 10, "number of ticks to run")
	cmd.Flags().StringVar(&outPath, "out", "", "write the recorded event log to this path")
	cmd.Flags().BoolVar(&execMode, "exec", true, "run in script-execution mode instead of happy-path auto-advance")
	return cmd
}

var lastPrintedEventCount int

func printNewEvents(state domain.CanvasState, tick int) {
	for _, ev := range state.Events[lastPrintedEventCount:] {
		fmt.Printf("[tick %d] %s %s\n", tick, colorize(ev), eventMessage(ev))
	}
	lastPrintedEventCount = len(state.Events)
}

func eventMessage(ev domain.RuntimeEvent) string {
	if msg, ok := ev.Payload["message"].(string); ok {
		return msg
	}
	return string(color.New(color.Faint).Sprint("(no message)"))
}
