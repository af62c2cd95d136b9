package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	goble "github.com/srg/blehttp/internal/device/go-ble"
	"github.com/srg/blehttp/internal/link"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List gateways and nodes in range",
	Long: `Scans for peers taking part in the link: gateways advertising the gateway
service and nodes advertising that they want a gateway.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

// peerRow is one discovered peer as printed by scan.
type peerRow struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role"`
	RSSI    int    `json:"rssi"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	_, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	radio, err := goble.NewRadio()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	logger.WithField("duration", scanDuration).Info("Scanning for link peers...")
	found, err := goble.Discover(ctx, radio, scanDuration, link.ServiceUUID, link.WantedUUID)
	if err != nil {
		return err
	}
	return printPeers(cmd.OutOrStdout(), peerRows(found), scanFormat)
}

func peerRows(found []goble.Advertisement) []peerRow {
	rows := make([]peerRow, 0, len(found))
	for _, adv := range found {
		role := "node"
		if adv.Advertises(link.ServiceUUID) {
			role = "gateway"
		}
		rows = append(rows, peerRow{
			Address: adv.Addr,
			Name:    adv.LocalName,
			Role:    role,
			RSSI:    adv.RSSI,
		})
	}
	return rows
}

func printPeers(w io.Writer, rows []peerRow, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No gateways or nodes found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tROLE\tRSSI")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.Address, r.Name, r.Role, r.RSSI)
	}
	return tw.Flush()
}
