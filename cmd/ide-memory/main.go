// Command ide-memory is a Model Context Protocol server that gives an IDE
// assistant persistent, searchable knowledge across sessions.
//
// Run without a subcommand it serves JSON-RPC 2.0 over stdin/stdout:
//
//	ide-memory --database ~/.ide-memory/memory.db
//
// CRITICAL: stdout carries protocol frames only. All logging goes to stderr.
package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	root := NewRootCmd(version)
	if err := fang.Execute(context.Background(), root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}
