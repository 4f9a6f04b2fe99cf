// Command partnerctl is a terminal client for the partner API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"partnerflow/resource"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", resource.Message(err))
		stop()
		os.Exit(1)
	}
}
