// slaterelay runs a relay hub that forwards encrypted slates between wallets.
//
// Usage:
//
//	slaterelay --listen 0.0.0.0:8080
//	slaterelay --tls-cert cert.pem --tls-key key.pem
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/Klingon-tech/slatewallet/config"
	klog "github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		flags   *config.Flags
		listen  string
		tlsCert string
		tlsKey  string
	)
	cmd := &cobra.Command{
		Use:          "slaterelay",
		Short:        "Relay hub for slatewallet",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("listen") {
				cfg.Hub.Listen = listen
			}
			if fs.Changed("tls-cert") {
				cfg.Hub.TLSCert = tlsCert
			}
			if fs.Changed("tls-key") {
				cfg.Hub.TLSKey = tlsKey
			}
			return run(cfg)
		},
	}
	flags = config.BindFlags(cmd.PersistentFlags())
	cmd.Flags().StringVar(&listen, "listen", "", "Hub listen address (host:port)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "TLS key file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("hub")

	hub := relay.NewHub(relay.HubConfig{
		MaxSubscriptions: cfg.Hub.MaxSubscriptions,
		RateLimit:        rate.Limit(cfg.Hub.RateLimit),
		RateBurst:        cfg.Hub.RateBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/", hub)
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.Hub.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Hub.TLSCert != "" && cfg.Hub.TLSKey != "" {
			err = srv.ListenAndServeTLS(cfg.Hub.TLSCert, cfg.Hub.TLSKey)
		} else {
			logger.Warn().Msg("TLS not configured; serving plain websockets")
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	logger.Info().
		Str("listen", cfg.Hub.Listen).
		Int("max_subscriptions", cfg.Hub.MaxSubscriptions).
		Float64("rate", cfg.Hub.RateLimit).
		Msg("Relay hub started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay hub: %w", err)
		}
		return nil
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.DropAll()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Int("connections", hub.ConnCount()).Msg("Goodbye!")
	return nil
}
