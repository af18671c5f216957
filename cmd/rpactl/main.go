package main

import (
	"os"

	"github.com/LeonardoBeccarini/dust_patrol/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
