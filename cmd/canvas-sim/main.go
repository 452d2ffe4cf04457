// Command canvas-sim is the headless operator console for the simulator:
// it runs scenarios to a fixed tick count, replays a recorded session,
// exports canonical snapshots, and watches a live run from a terminal
// dashboard.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
