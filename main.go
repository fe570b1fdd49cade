// The main package for the sitegen executable.
package main

import (
	"github.com/JakeFAU/sitegen/cmd"
)

func main() {
	cmd.Execute()
}
