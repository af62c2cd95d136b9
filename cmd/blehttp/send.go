package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	goble "github.com/srg/blehttp/internal/device/go-ble"
	"github.com/srg/blehttp/internal/dispatch"
	"github.com/srg/blehttp/internal/envelope"
	"github.com/srg/blehttp/internal/gateway"
	"github.com/srg/blehttp/pkg/config"
)

var (
	sendSecure   bool
	sendLoopback bool
	sendPeer     string
	sendRole     string
	sendTimeout  time.Duration
	sendQuiet    bool
)

var sendCmd = &cobra.Command{
	Use:   "send [request-file]",
	Short: "Send a raw HTTP request to the gateway and print the response body",
	Long: `Sends one raw HTTP/1.x request over the BLE link and writes the response body to stdout.

The request is read from request-file, or from stdin when the file is omitted or "-".
With --loopback the request runs through an in-memory gateway instead of the radio.`,
	Example: `  printf 'GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n' | blehttp send
  blehttp send --secure --peer AA:BB:CC:DD:EE:FF request.txt
  blehttp send --loopback request.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&sendSecure, "secure", false, "Have the gateway execute the request over HTTPS")
	sendCmd.Flags().BoolVar(&sendLoopback, "loopback", false, "Run against an in-memory gateway")
	sendCmd.Flags().StringVar(&sendPeer, "peer", "", "Gateway address to dial instead of scanning")
	sendCmd.Flags().StringVar(&sendRole, "role", "", "How to meet the gateway: scan or advertise (default from config)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "Transfer timeout (default from config)")
	sendCmd.Flags().BoolVarP(&sendQuiet, "quiet", "q", false, "Print only the response body")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if sendRole != "" {
		cfg.Role = sendRole
	}
	if sendPeer != "" {
		cfg.Peer = sendPeer
	}
	if sendTimeout > 0 {
		cfg.TransferTimeout = sendTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	request, err := readRequest(cmd, args)
	if err != nil {
		return err
	}

	sender, err := newSender(cfg, logger, sendLoopback)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	started := time.Now()
	body, err := sender.Send(ctx, request, sendSecure)
	if err != nil {
		return err
	}

	if _, err := cmd.OutOrStdout().Write(body); err != nil {
		return err
	}
	if !sendQuiet {
		color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "\n%d bytes received in %s\n",
			len(body), time.Since(started).Round(time.Millisecond))
	}
	return nil
}

// readRequest reads the raw request from the file named by args[0] or stdin.
func readRequest(cmd *cobra.Command, args []string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), envelope.MaxPayload+1))
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	switch {
	case len(data) == 0:
		return nil, ErrEmptyRequest
	case len(data) > envelope.MaxPayload:
		return nil, fmt.Errorf("%w: %d bytes", envelope.ErrTooLarge, len(data))
	}
	return data, nil
}

// newSender builds the transfer backend: the go-ble driver, or a loopback
// gateway that executes requests from this process.
func newSender(cfg *config.Config, logger *logrus.Logger, loopback bool) (dispatch.Sender, error) {
	if loopback {
		gw := gateway.New(nil, gateway.Options{
			PageSize:    cfg.PageSize,
			BodyLimit:   cfg.Gateway.BodyLimit,
			HTTPTimeout: cfg.Gateway.HTTPTimeout,
		}, logger)
		return gateway.NewLoopback(gw, gateway.LoopbackOptions{Session: cfg.SessionOptions()}, logger), nil
	}

	radio, err := goble.NewRadio()
	if err != nil {
		return nil, err
	}
	return goble.NewDriver(radio, goble.Options{
		Session:         cfg.SessionOptions(),
		Peer:            cfg.Peer,
		ScanTimeout:     cfg.ScanTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
		TransferTimeout: cfg.TransferTimeout,
	}, logger), nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
