// Package main provides the sphbox CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/landslide-lab/sphbox/internal/cli"
	"github.com/landslide-lab/sphbox/pkg/core"
)

func main() {
	// Load .env so SPHBOX_ settings can live next to the project.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(core.KindOf(err).ExitCode())
	}
}
