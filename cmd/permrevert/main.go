package main

import (
	"os"

	"github.com/jklevins/permrevert/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
