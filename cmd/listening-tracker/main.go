// Command listening-tracker records listening sessions and serves statistics.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/justestif/go-listening-tracker/internal/cli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return cli.RootCmd.ExecuteContext(context.Background())
}
