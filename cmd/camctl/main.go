// camctl - camwatch command line tool
//
// Usage:
//
//	camctl devices [-backend mock]
//	camctl snapshot [-camera name] [-o frame.jpg]
//	camctl status [-addr http://localhost:8080]
//	camctl tail [-addr ws://localhost:8080]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var commands = map[string]func(ctx context.Context, args []string) error{
	"devices":  runDevices,
	"snapshot": runSnapshot,
	"status":   runStatus,
	"tail":     runTail,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd(ctx, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: camctl <devices|snapshot|status|tail> [flags]")
}
