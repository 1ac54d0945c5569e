// Flow Channel - NETPIE session client
//
// flowchannel keeps one MQTT session to the NETPIE broker open per
// credential and exposes it as a long-running service (run) or as one-shot
// tools (watch, publish, shadow).
//
// Usage:
//
//	flowchannel [flags] <command> [args]
//
// Commands:
//
//	run     - run the session with the devices, telemetry and API from config
//	watch   - print session events as they arrive
//	publish - send a device message or private message
//	shadow  - read or update a device shadow
//
// Configuration is read from --config, or FLOWCHANNEL_CONFIG, with
// FLOWCHANNEL_* environment overrides on top.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
