package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/shotbridge/internal/config"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/hub"
	"github.com/srg/shotbridge/internal/ledger"
	"github.com/srg/shotbridge/internal/message"
	"github.com/srg/shotbridge/internal/registry"
	"github.com/srg/shotbridge/internal/server"
	"github.com/srg/shotbridge/internal/store"
	"github.com/srg/shotbridge/internal/title"
	"golang.org/x/sync/errgroup"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge HTTP/WebSocket server",
	Long: `Run the bridge: serve the HTTP API and the WebSocket push channel,
keep connected timers alive and record their sessions.

Settings are read from the --config file (missing file means defaults), then
overridden by SHOTBRIDGE_* environment variables, which may also come from
a .env file in the working directory.`,
	Example: `  shotbridge serve
  shotbridge serve --config /etc/shotbridge/settings.yaml --log-level debug
  SHOTBRIDGE_PORT=9000 shotbridge serve`,
	RunE: runServe,
}

var serveEnvFile string

func init() {
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Environment file loaded before the settings")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(serveEnvFile); err != nil {
		return err
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, newTransport(logger), logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}
	return a.run(ctx, ln)
}

// app is the wired bridge.
type app struct {
	store    *store.Store
	ledger   *ledger.Ledger
	title    *title.Store
	hub      *hub.Hub
	registry *registry.Registry
	server   *server.Server
	logger   *logrus.Logger
}

func newApp(cfg *config.Config, transport device.Transport, logger *logrus.Logger) (*app, error) {
	st, err := store.New(cfg.Paths.DataDir, cfg.Paths.ArchiveDir, logger)
	if err != nil {
		return nil, err
	}

	ldg := ledger.New(st, logger)
	ttl := title.NewStore(cfg.Paths.TitleFile, cfg.Title.Default, logger)
	h := hub.New(ldg, ttl.Get, logger)
	ttl.OnChange(func(t string) {
		h.Publish(message.TitleUpdate{Title: t})
	})

	reg := registry.New(transport, h, ldg, cfg.RegistryOptions(), logger)

	srv := server.New(server.Options{
		Addr:        cfg.Addr(),
		StaticDir:   cfg.Paths.StaticDir,
		ClientQueue: cfg.Hub.ClientQueue,
	}, server.Deps{
		Registry: reg,
		Store:    st,
		Ledger:   ldg,
		Title:    ttl,
		Hub:      h,
	}, logger)

	return &app{
		store:    st,
		ledger:   ldg,
		title:    ttl,
		hub:      h,
		registry: reg,
		server:   srv,
		logger:   logger,
	}, nil
}

// run serves until ctx is cancelled, then disconnects every device and
// closes the open journal.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Serve(gctx, ln)
	})
	g.Go(func() error {
		if err := a.title.Watch(gctx); err != nil {
			a.logger.WithField("error", err).Warn("Title watcher stopped")
		}
		return nil
	})

	err := g.Wait()

	a.logger.Info("Shutting down")
	a.registry.Close()
	a.ledger.Close()
	if f := a.ledger.PersistenceFailures(); f > 0 {
		a.logger.WithField("failures", f).Warn("Some session records could not be written")
	}
	return err
}
