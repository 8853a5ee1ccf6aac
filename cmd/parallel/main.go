package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nemanja-m/goparallel/internal/cli"
	"github.com/nemanja-m/goparallel/pkg/parallel"

	_ "github.com/nemanja-m/goparallel/examples/arith"
	_ "github.com/nemanja-m/goparallel/examples/grep"
	_ "github.com/nemanja-m/goparallel/examples/wordcount"
)

func main() {
	// The process provider re-executes this binary as its worker bootstrap.
	if parallel.IsWorker() {
		if err := parallel.ServeWorker(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
