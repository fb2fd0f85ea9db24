package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/codequerydev/codequery/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port      int
		host      string
		dev       bool
		withAgent bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the CodeQuery gateway",
		Long: `Start the HTTP gateway that admits API-key callers and forwards their file
requests to the endpoint registered for their key.

With --with-agent the registration agent runs in the same process, which is
convenient when the gateway and the tunnel live on one machine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev, withAgent)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8000, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVar(&withAgent, "with-agent", false, "Also run the tunnel registration agent")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, dev, withAgent bool) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(settings.Log, dev)

	gw, err := openGateway(settings, logger)
	if err != nil {
		return err
	}
	defer gw.Close()
	logger.Info("stores opened", "location", redactLocation(settings.Store.Location))
	if settings.Auth.AdminKey == "" {
		logger.Warn("no admin key configured, set CODEQUERY_AUTH_ADMIN_KEY to manage other keys")
	}

	srv := server.New(server.ConfigFromSettings(settings), server.Deps{
		Keys:      gw.keys,
		Stores:    gw.stores,
		Resolver:  gw.resolver,
		Forwarder: gw.forwarder(),
		Metrics:   gw.metrics,
	}, logger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if withAgent {
		if settings.Agent.GatewayURL == "" {
			settings.Agent.GatewayURL = fmt.Sprintf("http://127.0.0.1:%d", settings.Server.Port)
		}
		a, err := newAgent(settings, gw.metrics, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return a.Run(ctx) })
	}

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("→ CodeQuery %s\n", versionString())
	fmt.Printf("→ Listening on http://%s\n", addr)
	fmt.Printf("→ OpenAPI:    http://%s/openapi.json\n", addr)
	fmt.Printf("→ Health:     http://%s/healthz\n", addr)
	fmt.Printf("→ Metrics:    http://%s/metrics\n", addr)
	fmt.Println()

	return g.Wait()
}
