// Command ormcore validates entity descriptors, prints hydration plans,
// exports entity graphs from a configured store and runs harness scenarios.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/ormcore/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands print their own failures; anything else is a usage error.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(exitErr.Code)
}
