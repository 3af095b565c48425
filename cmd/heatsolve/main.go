// Command heatsolve runs the explicit five-point heat-equation solver.
package main

import (
	"os"

	"github.com/lapesd/faultsolve/internal/cliapp"
	"github.com/lapesd/faultsolve/internal/driver"
)

func main() {
	root := cliapp.NewRootCommand("heatsolve", "Fault-tolerant distributed heat equation solver", driver.KernelHeat)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
