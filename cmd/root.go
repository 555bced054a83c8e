package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X wabridge/cmd.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "wabridge",
	Short: "WhatsApp auto-reply bridge backed by a chat completion service",
	Long: `wabridge keeps one WhatsApp session alive, answers incoming text messages
through an OpenAI-compatible completion service, and exposes a small HTTP
control surface for pairing, toggling the bot and reading analytics.`,
	Version: version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
