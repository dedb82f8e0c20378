package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-auth-session/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(ctx, cli.NewApp(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", session.Message(err))
		for field, msg := range session.FieldErrors(err) {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
		}
		stop()
		os.Exit(1)
	}
}
