package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/codequerydev/codequery/internal/agent"
	"github.com/codequerydev/codequery/internal/client"
	"github.com/codequerydev/codequery/internal/config"
	"github.com/codequerydev/codequery/internal/metrics"
	"github.com/codequerydev/codequery/internal/service"
	"github.com/codequerydev/codequery/internal/tunnel"
)

func newAgentCmd() *cobra.Command {
	var (
		dev         bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Keep this machine's tunnel URL registered with a gateway",
		Long: `Run the registration agent next to the tunnel. It waits for the tunnel's local
API, reads the public https URL, registers it under the configured API key and
confirms the gateway stored it. It then re-checks periodically and registers
again when the URL changes or the registration gets stale.`,
		Example: `  CODEQUERY_AGENT_API_KEY=cq_... codequery agent --gateway https://gateway.example
  codequery agent --tunnel-api http://localhost:4040/api/tunnels --metrics-addr :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), dev, metricsAddr)
		},
	}

	cmd.Flags().String("gateway", "", "Gateway base URL")
	cmd.Flags().String("tunnel-api", "", "Tunnel local API URL")
	cmd.Flags().String("api-key", "", "API key to register under (prefer CODEQUERY_AGENT_API_KEY)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	viper.BindPFlag("agent.gateway_url", cmd.Flags().Lookup("gateway"))
	viper.BindPFlag("agent.tunnel_api_url", cmd.Flags().Lookup("tunnel-api"))
	viper.BindPFlag("agent.api_key", cmd.Flags().Lookup("api-key"))

	return cmd
}

// newAgent wires the agent to the tunnel API and a gateway client.
func newAgent(s *config.Settings, m *metrics.Metrics, logger *slog.Logger) (*agent.Agent, error) {
	if s.Agent.APIKey == "" {
		return nil, errors.New("agent.api_key is required (set CODEQUERY_AGENT_API_KEY)")
	}
	if s.Agent.GatewayURL == "" {
		return nil, errors.New("agent.gateway_url is required")
	}

	timeout := s.Agent.Timeout.Std()
	gw := client.New(s.Agent.GatewayURL, s.Agent.APIKey,
		client.WithHeader(s.Auth.APIKeyHeader),
		client.WithTimeout(timeout),
	)
	tun := tunnel.NewNgrokClient(s.Agent.TunnelAPIURL, timeout)

	cfg := agent.ConfigFromSettings(s.Agent)
	cfg.Metrics = m
	cfg.Logger = logger
	return agent.New(cfg, tun, gw), nil
}

func runAgent(ctx context.Context, dev bool, metricsAddr string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(settings.Log, dev)
	m := metrics.New()

	a, err := newAgent(settings, m, logger)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(ctx) })

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		ms := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(shutdownCtx)
		})
	}

	logger.Info("registration agent started",
		"gateway", settings.Agent.GatewayURL,
		"tunnel_api", settings.Agent.TunnelAPIURL,
		"key_prefix", service.KeyPrefix(settings.Agent.APIKey),
	)
	err = g.Wait()
	st := a.Status()
	logger.Info("registration agent stopped", "state", st.State.String(), "endpoint", st.Endpoint, "degraded", st.Degraded)
	return err
}
