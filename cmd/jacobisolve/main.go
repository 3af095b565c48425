// Command jacobisolve runs the SOR solver.
package main

import (
	"os"

	"github.com/lapesd/faultsolve/internal/cliapp"
	"github.com/lapesd/faultsolve/internal/driver"
)

func main() {
	root := cliapp.NewRootCommand("jacobisolve", "Fault-tolerant distributed SOR solver", driver.KernelSOR)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
