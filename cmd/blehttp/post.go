package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blehttp/internal/dispatch"
	"github.com/srg/blehttp/internal/envelope"
)

var (
	postSecure  bool
	postSocket  string
	postTimeout time.Duration
)

var postCmd = &cobra.Command{
	Use:   "post [request-file]",
	Short: "Post a request to a running dispatcher",
	Long: `Wraps a raw HTTP request in an envelope, posts it to the dispatcher socket
and prints the response body.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPost,
}

func init() {
	postCmd.Flags().BoolVar(&postSecure, "secure", false, "Have the gateway execute the request over HTTPS")
	postCmd.Flags().StringVar(&postSocket, "socket", "", "Socket path (default from config)")
	postCmd.Flags().DurationVar(&postTimeout, "timeout", time.Minute, "Time to wait for the result")
}

func runPost(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if postSocket != "" {
		cfg.SocketPath = postSocket
	}

	request, err := readRequest(cmd, args)
	if err != nil {
		return err
	}
	msg, err := envelope.EncodeHTTP(request, postSecure)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	ack, body, err := dispatch.Post(ctx, cfg.SocketPath, msg)
	if err != nil {
		return err
	}
	logger.WithField("ack", ack).Debug("Dispatcher answered")
	if ack != dispatch.AckAccepted {
		return fmt.Errorf("dispatcher did not accept the request: %s", ack)
	}

	_, err = cmd.OutOrStdout().Write(body)
	return err
}
