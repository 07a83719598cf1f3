package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/emfabro/steelgate/api"
	"github.com/emfabro/steelgate/internal/util"
	"github.com/emfabro/steelgate/web"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the login server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer s.Close()

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithVersion(Version),
			api.WithSteelRate(rate.Limit(cfg.SteelRate), cfg.SteelBurst),
			api.WithAlertFunc(func(ev api.AlertEvent) {
				logger.Warn(ev.Message, "alert", ev.Type, "count", ev.Count, "threshold", ev.Threshold)
			}),
		}
		if len(cfg.TrustedProxies) > 0 {
			opt, err := api.WithTrustedProxies(cfg.TrustedProxies)
			if err != nil {
				return err
			}
			opts = append(opts, opt)
		}
		if cfg.AuditWebhookURL != "" {
			opts = append(opts, api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookHeader))
		}
		a := api.New(s.service, opts...)
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		a.Routes(r)

		webHandler, err := web.Handler()
		if err != nil {
			return err
		}
		r.Handle("/*", webHandler)

		tlsConfig, err := serverTLS(cfg.TLSCert, cfg.TLSKey, cfg.IsDev())
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.vault.Run(ctx, cfg.SweepInterval.Duration)
		}()

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("starting server",
			"listen", cfg.Listen,
			"profile", cfg.Profile,
			"storage", cfg.Storage,
			"tls", tlsConfig != nil,
		)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err = server.Shutdown(shutdownCtx)
			wg.Wait()
			if err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			stop()
			wg.Wait()
			return err
		}
	},
}

// serverTLS loads the configured pair, or generates a self-signed one. The
// dev profile without a pair serves plain HTTP.
func serverTLS(certFile, keyFile string, dev bool) (*tls.Config, error) {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}
	if dev {
		return nil, nil
	}
	cert, err := util.GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Using self-signed runtime generated certificate for TLS")
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&flags.listen, "listen", "l", "", "Address to listen on (default :8443)")
	serverCmd.Flags().StringVar(&flags.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&flags.tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringSliceVar(&flags.trustedProxies, "trusted-proxy", nil, "CIDR whose X-Forwarded-For is trusted (repeatable)")
}
