package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	goble "github.com/srg/blehttp/internal/device/go-ble"
	"github.com/srg/blehttp/internal/gateway"
	"github.com/srg/blehttp/internal/groutine"
)

var (
	gatewayName       string
	gatewayDialWanted bool
	gatewayHold       time.Duration
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway as a GATT peripheral",
	Long: `Advertises the gateway service and executes the HTTP requests nodes write to it.

With --dial-wanted the gateway also connects to nodes advertising that they want
a gateway, holding each link for --hold before dropping it.`,
	Args: cobra.NoArgs,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayName, "name", "", "Advertised local name (default from config)")
	gatewayCmd.Flags().BoolVar(&gatewayDialWanted, "dial-wanted", false, "Connect to nodes advertising for a gateway")
	gatewayCmd.Flags().DurationVar(&gatewayHold, "hold", 0, "How long to hold a dialled node (default from config)")
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if gatewayName != "" {
		cfg.Gateway.Name = gatewayName
	}
	if gatewayHold > 0 {
		cfg.Gateway.HoldTimeout = gatewayHold
	}

	dev, err := goble.NewPeripheralDevice()
	if err != nil {
		return err
	}

	gw := gateway.New(nil, gateway.Options{
		PageSize:    cfg.PageSize,
		BodyLimit:   cfg.Gateway.BodyLimit,
		HTTPTimeout: cfg.Gateway.HTTPTimeout,
	}, logger)
	p := goble.NewPeripheral(dev, gw, cfg.Gateway.Name, logger)

	ctx, stop := signalContext()
	defer stop()

	if gatewayDialWanted {
		radio := goble.RadioFor(dev)
		groutine.Go(ctx, "gateway-dial-wanted", func(ctx context.Context) {
			if err := p.DialWanted(ctx, radio, cfg.Gateway.HoldTimeout); err != nil {
				logger.WithError(err).Error("Dialling nodes stopped")
			}
		})
	}

	return p.Serve(ctx)
}
