// Command guildmark evaluates and repairs apprentice achievements.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/guildmark/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
