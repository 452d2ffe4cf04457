package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/eventlog"
	"github.com/agirails/canvas-core/internal/canvas/replay"
)

func newReplayCommand() *cobra.Command {
	var speed float64
	var toTick int64
	var toEvent int

	cmd := &cobra.Command{
		Use:   "replay <eventlog.json>",
		Short: "Replay a previously recorded event log (play/step/seek)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loadEventLog(args[0])
			if err != nil {
				return err
			}
			resolve := func(templateID string) (string, bool) {
				t, ok := domain.LookupTemplate(templateID)
				return t.Code, ok
			}

			eng, err := replay.New(log, resolve, newLogger())
			if err != nil {
				return err
			}

			switch {
			case toEvent > 0:
				if err := eng.JumpToEvent(toEvent); err != nil {
					return err
				}
			case toTick > 0:
				if err := eng.JumpToTick(toTick); err != nil {
					return err
				}
			default:
				for eng.State() != replay.StateComplete {
					if err := eng.Step(); err != nil {
						return err
					}
				}
			}

			state := eng.CanvasState()
			fmt.Printf("replay finished at event %d/%d, tick %d, state=%s\n",
				eng.CurrentEventIndex(), eng.TotalEvents(), eng.CurrentTick(), eng.State())
			for id, conn := range state.Connections {
				fmt.Printf("  connection %s: %s -> %s [%s] %d micro\n", id, conn.SourceID, conn.TargetID, conn.State, conn.AmountMic)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 1, "playback speed multiplier (reserved for watch mode)")
	cmd.Flags().Int64Var(&toTick, "to-tick", 0, "jump directly to this tick instead of stepping through every event")
	cmd.Flags().IntVar(&toEvent, "to-event", 0, "jump directly to this event index instead of stepping through every event")
	return cmd
}

func loadEventLog(path string) (*eventlog.Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	var log eventlog.Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("parse event log: %w", err)
	}
	return &log, nil
}
