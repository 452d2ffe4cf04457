package main

import (
	"fmt"
	"os"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
)

// newDiffCommand diffs two canonical exports, the operator's tool for
// chasing down nondeterminism between two runs of the same scenario.
func newDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <export-a.json> <export-b.json>",
		Short: "Diff two canonical exports to spot nondeterministic divergence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			b, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			dmp := diffmatchpatch.New()
			diffs := dmp.DiffMain(string(a), string(b), false)
			diffs = dmp.DiffCleanupSemantic(diffs)

			if len(diffs) == 1 && diffs[0].Type == diffmatchpatch.DiffEqual {
				fmt.Println("no differences")
				return nil
			}
			fmt.Println(dmp.DiffPrettyText(diffs))
			return nil
		},
	}
}
