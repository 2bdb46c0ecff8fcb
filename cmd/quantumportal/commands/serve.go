package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantumportal/quantumportal/internal/config"
	"github.com/quantumportal/quantumportal/internal/contact"
	"github.com/quantumportal/quantumportal/internal/content"
	"github.com/quantumportal/quantumportal/internal/logging"
	"github.com/quantumportal/quantumportal/internal/metrics"
	"github.com/quantumportal/quantumportal/internal/output"
	"github.com/quantumportal/quantumportal/internal/server"
	"github.com/quantumportal/quantumportal/internal/session"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	host  string
	port  int
	watch bool
}

func newServeCommand(g *globals) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Start the portal server",
		Long: `Start the portal server. The directory holds quantumportal.yaml and,
when content.dir points into it, the translation files.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := siteDir(args)
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig(dir)
			if err != nil {
				return err
			}
			// CLI flags override config
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = f.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = f.port
			}
			if f.watch {
				cfg.Content.Watch = true
			}
			if g.debug {
				cfg.Server.Debug = true
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, g.logger, cmd)
		},
	}
	cmd.Flags().StringVar(&f.host, "host", "", "Host to listen on")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "Port to listen on")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "Reload content when files change")
	return cmd
}

// app is the wired portal: every component the server needs, closed in
// reverse order of creation.
type app struct {
	server   *server.Server
	sessions *session.Manager
	contact  *contact.Service
	log      *zap.Logger
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	if log == nil {
		log = zap.NewNop()
	}

	live, err := content.NewLive(cfg.Content.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	if problems := live.Catalog().Problems(); len(problems) > 0 {
		log.Warn("content has problems", zap.Strings("problems", problems))
	}

	m := metrics.New()
	t := cfg.Timing
	sessions := session.NewManager(session.ManagerConfig{
		IdleTTL:     cfg.Session.GetIdleTTL(),
		MaxSessions: cfg.Session.GetMaxSessions(),
		Session: session.Options{
			Timing: session.Timing{
				QubitReset:        t.GetQubitReset(),
				BoxReveal:         t.GetBoxReveal(),
				BoxReset:          t.GetBoxReset(),
				CollapseScroll:    t.GetCollapseScroll(),
				RegisterSuperpose: t.GetRegisterSuperpose(),
				RegisterCollapse:  t.GetRegisterCollapse(),
			},
			PointerRate: cfg.Session.GetPointerRate(),
			Logger:      logging.Named(log, logging.Session),
			Observer:    m,
		},
	})

	svc, err := newContactService(cfg, log, m)
	if err != nil {
		sessions.Stop()
		return nil, err
	}

	srv, err := server.New(server.Options{
		Config:   cfg,
		Content:  live,
		Sessions: sessions,
		Contact:  svc,
		Metrics:  m,
		Logger:   log,
	})
	if err != nil {
		sessions.Stop()
		_ = svc.Close()
		return nil, err
	}

	a := &app{server: srv, sessions: sessions, contact: svc, log: log}
	if cfg.Content.Watch {
		if err := srv.EnableWatch(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to enable watch mode: %w", err)
		}
	}
	return a, nil
}

func newContactService(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*contact.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := contact.OpenStore(ctx, cfg.Contact.GetDriver(), cfg.Contact.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open contact store: %w", err)
	}
	outputs, err := output.NewRegistryFromConfig(cfg.Contact.Outputs)
	if err != nil {
		_ = outputs.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to configure contact outputs: %w", err)
	}

	retry := contact.DefaultRetryConfig()
	retry.MaxRetries = cfg.Contact.GetRetryMaxRetries()
	retry.BaseDelay = cfg.Contact.GetRetryBaseDelay()
	retry.MaxDelay = cfg.Contact.GetRetryMaxDelay()

	return contact.NewService(contact.ServiceConfig{
		Store:    store,
		Outputs:  outputs,
		Retry:    retry,
		Logger:   logging.Named(log, logging.Contact),
		Observer: m,
	})
}

// Close stops the server, expires every session and flushes pending
// contact notifications.
func (a *app) Close() error {
	err := a.server.Close()
	a.sessions.Stop()
	return errors.Join(err, a.contact.Close())
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, cmd *cobra.Command) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown error", zap.Error(err))
		}
	}()

	addr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.StdLog(logging.Named(log, logging.HTTP)),
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Quantum Portal running at http://%s\n", addr)
	if cfg.Content.Dir != "" {
		fmt.Fprintf(out, "Content: %s\n", cfg.Content.Dir)
	}
	if cfg.Content.Watch {
		fmt.Fprintf(out, "Watch mode enabled - content reloads on changes\n")
	}
	if cfg.Metrics.IsEnabled() {
		fmt.Fprintf(out, "Metrics at http://%s/metrics\n", addr)
	}
	fmt.Fprintf(out, "Press Ctrl+C to stop\n\n")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown; the
	// deferred app.Close closes them.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", zap.Error(err))
	}
	return nil
}
