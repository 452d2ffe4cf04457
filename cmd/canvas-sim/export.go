package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/snapshot"
)

func newExportCommand() *cobra.Command {
	var ticks int
	var full bool
	var outPath string
	var execMode bool

	cmd := &cobra.Command{
		Use:   "export <scenario.yaml>",
		Short: "Run a scenario and write its canonical export (topology or full)",
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
			}

			state := rt.store.State()
			positions := collectPositions(rt, state)

			exportFn := snapshot.ExportTopology
			if full {
				exportFn = snapshot.ExportFull
			}
			export := exportFn(state, positions, time.Now().UTC().Format(time.RFC3339))

			data, err := snapshot.Marshal(export)
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Println(string(data))
				return nil
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}

	cmd.Flags().IntVar(&ticks, "ticks", 10, "number of ticks to run before exporting")
	cmd.Flags().BoolVar(&full, "full", false, "include agent source code in the export")
	cmd.Flags().StringVar(&outPath, "out", "", "write to this path instead of stdout")
	cmd.Flags().BoolVar(&execMode, "exec", true, "run in script-execution mode instead of happy-path auto-advance")
	return cmd
}

// collectPositions reads each agent's geometric position back out of the
// store, since domain.CanvasState itself deliberately excludes positions
// from the hot reducer path.
func collectPositions(rt *runtime, state domain.CanvasState) map[string]domain.Position {
	positions := make(map[string]domain.Position, len(state.Agents))
	for id := range state.Agents {
		if p, ok := rt.store.GetAgentPosition(id); ok {
			positions[id] = p
		}
	}
	return positions
}
