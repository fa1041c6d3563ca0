// The main package for the archiver executable.
package main

import (
	"github.com/linkvault/archiver/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
