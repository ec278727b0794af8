package main

import (
	"os"

	"github.com/terminus-io/warden/cmd/terminus-warden/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
