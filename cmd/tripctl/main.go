package main

import (
	"fmt"
	"os"

	"github.com/angelmondragon/freightlane-backend/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tripctl:", err)
		os.Exit(1)
	}
}
