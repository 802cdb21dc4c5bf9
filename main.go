// The main package for the docpress executable.
package main

import (
	"github.com/docpress/docpress/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
