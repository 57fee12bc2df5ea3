package main

// ============================================================================
// beaver-sched entry point
//
//   go run ./cmd/queue run -c configs/default.yaml
//   go run ./cmd/queue validate
//
// All command logic lives in internal/cli.
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/beaver-sched/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	os.Exit(cli.Main())
}
