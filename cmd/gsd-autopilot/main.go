package main

import (
	"os"

	"github.com/NexeraDigital/gsd-autopilot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
