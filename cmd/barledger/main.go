package main

import (
	"os"

	"github.com/rustyeddy/barledger/cmd/barledger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
