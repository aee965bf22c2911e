package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextvibe/nextvibe/internal/config"
	"github.com/nextvibe/nextvibe/internal/gateway"
	"github.com/nextvibe/nextvibe/internal/gateway/cli"
	"github.com/nextvibe/nextvibe/internal/gateway/httpapi"
	"github.com/nextvibe/nextvibe/internal/gateway/telegram"
	"github.com/nextvibe/nextvibe/internal/gateway/ws"
	"github.com/nextvibe/nextvibe/internal/janitor"
	goutils "github.com/jkaninda/go-utils"
)

// Standalone WebSocket listener address when the HTTP gateway is disabled.
const defaultWSListenAddr = ":8081"

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine (HTTP, CLI, Telegram, WebSocket gateways)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `nextvibe --config path` and `nextvibe serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the engine with all enabled gateways.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("NEXTVIBE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting engine", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background maintenance: idle rate-limit eviction and history pruning.
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		jan := janitor.New(sc.Limiter, sc.Store, logger, janitor.Config{
			Schedule:         cfg.Janitor.CronSchedule(),
			IdleEvictAge:     cfg.Janitor.IdleEvictAge(),
			HistoryRetention: cfg.Janitor.HistoryRetention(),
		})
		stopJanitor, err := jan.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting janitor: %w", err)
		}
		defer stopJanitor()
		logger.Debug("janitor started", slog.String("schedule", cfg.Janitor.CronSchedule()))
	}

	// WebSocket task stream endpoint (optional).
	var wsServer *ws.Server
	if cfg.Gateways.WebSocket != nil && cfg.Gateways.WebSocket.Enabled {
		wsServer = ws.NewServer(sc.Engine, logger)
		logger.Debug("websocket server initialized",
			slog.String("path", cfg.Gateways.WebSocket.WSPath()),
		)
	}

	gateways := buildGateways(cfg, sc, wsServer)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways; the group context cancels on signal or on the
	// first gateway failure.
	group, runCtx := errgroup.WithContext(ctx)
	for _, gw := range gateways {
		group.Go(func() error {
			return gw.Start(runCtx)
		})
	}

	<-runCtx.Done()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
	}

	// Graceful shutdown with deadline, reverse start order.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway exited with error", slog.String("error", err.Error()))
	}
	return nil
}

// buildGateways creates all enabled gateways from config.
func buildGateways(cfg *config.Config, sc *SharedComponents, wsServer *ws.Server) []gateway.Gateway {
	var gws []gateway.Gateway
	gwCfg := cfg.Gateways

	// Default to CLI if no gateways section configured.
	hasAnyGateway := gwCfg.CLI != nil || gwCfg.HTTP != nil || gwCfg.Telegram != nil || gwCfg.WebSocket != nil
	if !hasAnyGateway {
		gws = append(gws, cli.NewGateway(sc.Engine, sc.Logger))
		sc.Logger.Debug("gateway enabled", slog.String("type", "cli"), slog.String("reason", "default"))
		return gws
	}

	// CLI gateway.
	if gwCfg.CLI != nil && gwCfg.CLI.Enabled {
		gws = append(gws, cli.NewGateway(sc.Engine, sc.Logger))
		sc.Logger.Debug("gateway enabled", slog.String("type", "cli"))
	}

	// HTTP API gateway.
	var httpGW *httpapi.Gateway
	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.Addr(),
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			APIToken:       os.Getenv("NEXTVIBE_API_TOKEN"),
			MaxRequestSize: gwCfg.HTTP.MaxRequestSizeBytes,
		}
		if sc.Obs != nil {
			httpCfg.Metrics = sc.Obs.Metrics
			httpCfg.HealthChecker = sc.Obs.Health
			if sc.Obs.Metrics != nil {
				httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			}
			if sc.Obs.Tracer != nil {
				httpCfg.Tracer = sc.Obs.Tracer.Tracer()
			}
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
		httpGW = httpapi.NewGateway(httpCfg, sc.Engine, sc.Logger)
	}

	// Mount the WebSocket handler on the HTTP gateway if both are enabled.
	// Otherwise, start a standalone HTTP server for the WebSocket endpoint.
	if wsServer != nil {
		wsPath := gwCfg.WebSocket.WSPath()
		if httpGW != nil {
			httpGW.WithHandler(wsPath, wsServer.Handler())
			sc.Logger.Debug("websocket endpoint mounted on http gateway",
				slog.String("path", wsPath),
			)
		} else {
			gws = append(gws, newStandaloneWSGateway(wsServer, defaultWSListenAddr, wsPath, sc.Logger))
			sc.Logger.Debug("gateway enabled",
				slog.String("type", "websocket"),
				slog.String("addr", defaultWSListenAddr),
				slog.String("path", wsPath),
			)
		}
	}

	if httpGW != nil {
		gws = append(gws, httpGW)
		sc.Logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", gwCfg.HTTP.Addr()),
			slog.Bool("docs", gwCfg.HTTP.EnableDocs),
			slog.Bool("websocket", wsServer != nil),
		)
	}

	// Telegram gateway.
	if gwCfg.Telegram != nil && gwCfg.Telegram.Enabled {
		gws = append(gws, telegram.NewGateway(telegram.Config{
			BotToken:     gwCfg.Telegram.BotToken,
			WebhookURL:   gwCfg.Telegram.WebhookURL,
			ListenAddr:   gwCfg.Telegram.ListenAddr,
			AllowedUsers: gwCfg.Telegram.AllowedUsers,
			PollTimeout:  gwCfg.Telegram.PollTimeoutSeconds,
		}, sc.Engine, sc.Transcriber, sc.Logger))

		mode := "long-polling"
		if gwCfg.Telegram.WebhookURL != "" {
			mode = "webhook"
		}
		sc.Logger.Debug("gateway enabled",
			slog.String("type", "telegram"),
			slog.String("mode", mode),
			slog.Bool("voice", sc.Transcriber != nil),
		)
	}

	return gws
}

// standaloneWSGateway wraps a ws.Server as a gateway.Gateway for cases where
// the HTTP gateway is not enabled and the WebSocket endpoint needs its own
// listener.
type standaloneWSGateway struct {
	wsServer   *ws.Server
	addr       string
	path       string
	logger     *slog.Logger
	httpServer *http.Server
}

func newStandaloneWSGateway(wsServer *ws.Server, addr, path string, logger *slog.Logger) *standaloneWSGateway {
	return &standaloneWSGateway{
		wsServer: wsServer,
		addr:     addr,
		path:     path,
		logger:   logger,
	}
}

func (g *standaloneWSGateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(g.path, g.wsServer.Handler())

	g.httpServer = &http.Server{
		Addr:              g.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("standalone websocket gateway starting", slog.String("addr", g.addr))
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket gateway: %w", err)
	}
	return nil
}

func (g *standaloneWSGateway) Stop(ctx context.Context) error {
	if g.httpServer != nil {
		return g.httpServer.Shutdown(ctx)
	}
	return nil
}
