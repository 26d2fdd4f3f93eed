// Package main is the entry point for the commsync CLI.
//
// Usage:
//
//	commsync [flags] <command> [subcommand] [args]
//
// Commands:
//
//	broker     - Run an embedded MQTT broker (tcp, websocket)
//	watch      - Follow a community timeline live
//	send       - Send a message
//	publish    - Publish a raw event envelope
//	topic      - Build and parse topic names
//	config     - Manage contexts
//	version    - Show version information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/faithflow/commsync/cmd/commsync/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
