// FEPForge prepares relative binding free-energy calculations: it
// normalizes ligand structures, assigns force-field parameters, maps common
// substructures, and merges ligand pairs into hybrid topologies ready for
// simulation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
