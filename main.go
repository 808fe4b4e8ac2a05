package main

import (
	"os"

	"github.com/huntplane/huntplane/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
