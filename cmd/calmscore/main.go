package main

import (
	"os"

	"github.com/goblincore/calmscore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
