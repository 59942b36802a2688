package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-authgate/tokengate/internal/config"
	"github.com/go-authgate/tokengate/internal/logger"
	"github.com/go-authgate/tokengate/internal/server"
	"github.com/go-authgate/tokengate/internal/store"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tokengate",
		Short: "OAuth2 client credentials authorization server and resource server",
		Long: `tokengate issues OAuth2 access tokens with the client credentials grant
and protects resources with them. Tokens are either opaque, checked through
the introspection endpoint, or HS256 JWTs verified locally.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error displaying help: %v\n", err)
			}
		},
	}

	root.AddCommand(newAuthServerCmd())
	root.AddCommand(newResourceServerCmd())
	root.AddCommand(newHashSecretCmd())
	return root
}

func newAuthServerCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "auth-server",
		Short: "Run the authorization server (token, introspection and revocation endpoints)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.ServerAddr = addr
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			srv, err := server.NewAuthServer(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), log, "auth-server", cfg.ServerAddr, srv.Engine, srv.Close)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides SERVER_ADDR")
	return cmd
}

func newResourceServerCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "resource-server",
		Short: "Run the sample resource server protected by bearer tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.ResourceAddr = addr
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			srv, err := server.NewResourceServer(cfg, log, nil)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), log, "resource-server", cfg.ResourceAddr, srv.Engine, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides RESOURCE_ADDR")
	return cmd
}

func newHashSecretCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print the bcrypt hash of a client secret for the clients file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := store.HashSecret(args[0], cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 selects the default)")
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	return logger.New(logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev})
}

// serve runs handler on addr until the process is signalled or ctx ends,
// then shuts the HTTP server down and runs cleanup.
func serve(ctx context.Context, log *zap.Logger, name, addr string, handler http.Handler, cleanup func() error) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if cleanup != nil {
			_ = cleanup()
		}
		return fmt.Errorf("%s: listen on %s: %w", name, addr, err)
	}
	return serveListener(ctx, log, name, ln, handler, cleanup)
}

// serveListener serves on ln. A server failure triggers the same shutdown
// as a signal and is returned once cleanup has run.
func serveListener(ctx context.Context, log *zap.Logger, name string, ln net.Listener, handler http.Handler, cleanup func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	m := graceful.NewManagerWithContext(ctx, graceful.WithShutdownTimeout(shutdownTimeout))
	m.AddRunningJob(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			log.Info("server listening", zap.String("server", name), zap.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			log.Info("shutting down", zap.String("server", name))
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err != nil {
				log.Error("server failed", zap.String("server", name), zap.Error(err))
				err = fmt.Errorf("%s: serve: %w", name, err)
			}
			cancel()
			return err
		}
	})
	if cleanup != nil {
		m.AddShutdownJob(cleanup)
	}

	<-m.Done()
	return errors.Join(m.Errors()...)
}
