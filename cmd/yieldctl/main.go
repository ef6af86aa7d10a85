// Command yieldctl loads tester logs offline and prints yield, failure and firmware
// reports or writes the export matrix.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
