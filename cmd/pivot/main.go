// Command pivot builds, runs and serves slice-and-dice queries over the
// data cubes of a settings file.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pivot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
