package main

import (
	"os"

	"github.com/gitvan/gitvan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
