package main

import (
	"os"

	"github.com/reinetwork/reimint/cmd/reimint-debug/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
