// The main package for the avatarsvc executable.
package main

import (
	"github.com/JakeFAU/avatar-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
