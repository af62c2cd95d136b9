package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/blehttp/internal/dispatch"
)

var (
	serveSocket   string
	serveLoopback bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dispatcher socket",
	Long: `Listens on a unix socket for envelopes and forwards each HTTP request over the BLE link.

Every connection carries one envelope. The client gets an acknowledgement byte,
then the transfer result once the response has been read back.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "Socket path (default from config)")
	serveCmd.Flags().BoolVar(&serveLoopback, "loopback", false, "Forward to an in-memory gateway")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if serveSocket != "" {
		cfg.SocketPath = serveSocket
	}

	sender, err := newSender(cfg, logger, serveLoopback)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	server := dispatch.NewServer(cfg.SocketPath, dispatch.New(sender, logger), logger)
	return server.ListenAndServe(ctx)
}
