package main

import (
	"os"

	"github.com/grovetools/virtsession/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
