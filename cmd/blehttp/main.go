package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blehttp",
	Short: "HTTP over Bluetooth Low Energy",
	Long: `Carries HTTP requests over a BLE GATT link to a gateway that executes them:

- Send a raw HTTP request to a gateway and print the response body
- Serve a local dispatcher socket that forwards envelopes over the link
- Post an envelope to a running dispatcher
- Run the gateway side as a GATT peripheral
- List gateways and nodes in range

A loopback mode runs the whole protocol in memory against a local gateway.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("blehttp %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	// Add subcommands
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(scanCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shortcut for --log-level debug")
	rootCmd.PersistentFlags().String("config", "", "Config file (.yaml, .yml or .toml)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
