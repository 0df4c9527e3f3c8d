package main

import (
	"fmt"
	"os"

	"github.com/yndnr/fencevirt-go/internal/cli/command"
)

func main() {
	if err := command.DaemonApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
