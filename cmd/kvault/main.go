package main

import (
	"os"

	"github.com/jrife/kvault/cmd/kvault/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
