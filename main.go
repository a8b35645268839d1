// Command chatpoll counts what a Twitch chat is saying right now. It:
//   - Reads one channel's chat (anonymously or as a bot) and folds near-duplicate
//     lines into shared counters that decay after a configurable delay.
//   - Serves the ranked table over HTTP as JSON, SSE and websocket, with runtime
//     settings, channel switching and a Twitch login flow.
//   - Hot-reloads ledger settings from an optional YAML file.
//
// "chatpoll replay" feeds a log of chat lines through the same ledger offline.
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:           "chatpoll",
	Short:         "chatpoll: live fuzzy vote counter for Twitch chat",
	Long:          "Counts similar chat messages in a sliding window and publishes the top entries.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          serveCmd.RunE,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
