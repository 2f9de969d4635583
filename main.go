// The main package for the chapterharvest executable.
package main

import (
	"github.com/JakeFAU/chapterharvest/cmd"
)

func main() {
	cmd.Execute()
}
