package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agirails/canvas-core/internal/canvas/scenario"
)

func newScenarioCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Inspect or interactively pick a scenario file",
	}
	cmd.AddCommand(newScenarioShowCommand(), newScenarioLoadCommand())
	return cmd
}

func newScenarioShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <scenario.yaml>",
		Short: "Print a scenario file's agents and connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s (seed=%d, tickIntervalMs=%d)\n", s.Name, s.Seed, s.TickIntervalMs)
			for _, a := range s.Agents {
				fmt.Printf("  agent %-12s %-10s balance=%d\n", a.ID, a.Type, a.BalanceM)
			}
			for _, c := range s.Connections {
				fmt.Printf("  conn  %s -> %s [%s] amount=%d\n", c.Source, c.Target, c.Service, c.AmountM)
			}
			return nil
		},
	}
}

// newScenarioLoadCommand lets an operator pick a scenario file from a
// directory interactively, the headless analogue of a file-open dialog.
func newScenarioLoadCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Interactively pick a scenario YAML file from a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("scenario load: requires an interactive terminal; use `scenario show` for piped output")
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("scenario load: read %s: %w", dir, err)
			}
			var names []string
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				ext := filepath.Ext(e.Name())
				if ext == ".yaml" || ext == ".yml" {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			if len(names) == 0 {
				return fmt.Errorf("scenario load: no scenario files found under %s", dir)
			}

			prompt := promptui.Select{
				Label: "Select a scenario",
				Items: names,
			}
			_, chosen, err := prompt.Run()
			if err != nil {
				return fmt.Errorf("scenario load: %w", err)
			}

			s, err := scenario.Load(filepath.Join(dir, chosen))
			if err != nil {
				return err
			}
			fmt.Printf("loaded %s: %d agents, %d connections\n", chosen, len(s.Agents), len(s.Connections))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to search for scenario files")
	return cmd
}
