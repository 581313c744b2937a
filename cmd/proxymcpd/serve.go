package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/proxymcpd/proxymcpd/pkg/ca"
	"github.com/proxymcpd/proxymcpd/pkg/config"
	"github.com/proxymcpd/proxymcpd/pkg/health"
	"github.com/proxymcpd/proxymcpd/pkg/intercept"
	"github.com/proxymcpd/proxymcpd/pkg/store"
)

type serveOptions struct {
	configPath string

	httpPort  int
	httpsPort int
	noWS      bool
	noHTTPS   bool
	certPath  string
	keyPath   string
	noVerify  bool

	noCaptureHeaders bool
	noCaptureBody    bool
	maxBodySize      int64

	dbPath        string
	retentionDays int
	noFTS         bool

	noAutoStart bool
	metricsPort int
	verbose     bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the interception proxy",
		Long: `Start the HTTP/HTTPS/WebSocket interception proxy.

Examples:
  proxymcpd serve
  proxymcpd serve --http-port 9090 --https-port 9443
  proxymcpd serve --no-https
  proxymcpd serve --config ./proxymcpd.yaml --metrics-port 9091`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file (when set, the proxy, capture and storage flags below are ignored)")

	cmd.Flags().IntVar(&opts.httpPort, "http-port", 8080, "HTTP listener port")
	cmd.Flags().IntVar(&opts.httpsPort, "https-port", 0, "HTTPS port, validated only; no listener is opened on it and HTTPS is intercepted via CONNECT on the HTTP port (0 = unset)")
	cmd.Flags().BoolVar(&opts.noWS, "no-websockets", false, "Disable WebSocket tunneling")
	cmd.Flags().BoolVar(&opts.noHTTPS, "no-https", false, "Disable HTTPS interception")
	cmd.Flags().StringVar(&opts.certPath, "cert-path", "", "Path to the CA certificate (default: ./certs/ca-cert.pem)")
	cmd.Flags().StringVar(&opts.keyPath, "key-path", "", "Path to the CA private key (default: ./certs/ca-key.pem)")
	cmd.Flags().BoolVar(&opts.noVerify, "ignore-host-https-errors", false, "Suppress upstream TLS certificate validation")

	cmd.Flags().BoolVar(&opts.noCaptureHeaders, "no-capture-headers", false, "Don't capture request/response headers")
	cmd.Flags().BoolVar(&opts.noCaptureBody, "no-capture-body", false, "Don't capture request/response bodies")
	cmd.Flags().Int64Var(&opts.maxBodySize, "max-body-size", 1024*1024, "Maximum captured body size in bytes")

	cmd.Flags().StringVar(&opts.dbPath, "db-path", "./traffic.db", "Path to the embedded traffic database")
	cmd.Flags().IntVar(&opts.retentionDays, "retention-days", 7, "Retention period in days, stored in the config; no cleanup is scheduled from it")
	cmd.Flags().BoolVar(&opts.noFTS, "no-fts", false, "Clear storage.enableFTS in the config; the store creates its full-text search tables regardless")

	cmd.Flags().BoolVar(&opts.noAutoStart, "no-auto-start", false, "Build the engine but don't start listening")
	cmd.Flags().IntVar(&opts.metricsPort, "metrics-port", 0, "Port for /metrics, /healthz, /readyz (0 = disabled)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	return cmd
}

func (o *serveOptions) toProxyConfig() *config.ProxyConfig {
	cfg := config.DefaultConfig()
	cfg.Proxy.HTTPPort = o.httpPort
	cfg.Proxy.HTTPSPort = o.httpsPort
	cfg.Proxy.EnableWebSockets = !o.noWS
	cfg.Proxy.EnableHTTPS = !o.noHTTPS
	cfg.Proxy.IgnoreHostHTTPSErrors = o.noVerify
	if o.certPath != "" {
		cfg.Proxy.CertPath = o.certPath
	}
	if o.keyPath != "" {
		cfg.Proxy.KeyPath = o.keyPath
	}

	cfg.Capture.CaptureHeaders = !o.noCaptureHeaders
	cfg.Capture.CaptureBody = !o.noCaptureBody
	cfg.Capture.MaxBodySize = o.maxBodySize
	cfg.Capture.CaptureWebSocketMessages = !o.noWS

	cfg.Storage.DBPath = o.dbPath
	cfg.Storage.RetentionDays = o.retentionDays
	cfg.Storage.EnableFTS = !o.noFTS
	return cfg
}

func runServe(opts *serveOptions) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if opts.verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	var cfg *config.ProxyConfig
	if opts.configPath != "" {
		loaded, warnings, err := config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		cfg = loaded
	} else {
		cfg = opts.toProxyConfig()
		warnings, err := config.Validate(cfg)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("startup error: failed to open store: %w", err)
	}
	defer st.Close()

	var proxyCA *ca.CA
	if cfg.Proxy.EnableHTTPS {
		proxyCA, err = ca.LoadOrCreate(cfg.Proxy.CertPath, cfg.Proxy.KeyPath, nil)
		if err != nil {
			return fmt.Errorf("startup error: failed to set up CA: %w", err)
		}
		fmt.Printf("Using CA certificate: %s\n", cfg.Proxy.CertPath)
	}

	engine, err := intercept.New(intercept.Config{
		CA:                       proxyCA,
		Store:                    st,
		Log:                      log,
		EnableHTTPS:              cfg.Proxy.EnableHTTPS,
		EnableWebSockets:         cfg.Proxy.EnableWebSockets,
		IgnoreHostHTTPSErrors:    cfg.Proxy.IgnoreHostHTTPSErrors,
		CaptureHeaders:           cfg.Capture.CaptureHeaders,
		CaptureBody:              cfg.Capture.CaptureBody,
		CaptureWebSocketMessages: cfg.Capture.CaptureWebSocketMessages,
		MaxBodySize:              cfg.Capture.MaxBodySize,
	})
	if err != nil {
		return fmt.Errorf("startup error: failed to build engine: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Proxy.HTTPPort)

	sup, err := health.New(health.Config{
		Addr:         addr,
		RunningCheck: engine.Running,
		StartFunc:    func() error { return engine.Start(addr) },
		StopFunc:     func() error { return engine.Stop(context.Background()) },
		OnHealthChange: func(healthy bool) {
			log.Warn().Bool("healthy", healthy).Msg("engine health transition")
		},
	})
	if err != nil {
		return fmt.Errorf("startup error: failed to build health supervisor: %w", err)
	}

	var provider *health.Provider
	if opts.metricsPort > 0 {
		provider, err = health.NewProvider(sup)
		if err != nil {
			return fmt.Errorf("startup error: failed to set up metrics: %w", err)
		}
	}

	if !opts.noAutoStart {
		if err := engine.Start(addr); err != nil {
			return fmt.Errorf("startup error: %w", err)
		}
		sup.Start()
		fmt.Printf("proxymcpd listening on %s\n", addr)
	}

	if opts.metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", provider.PrometheusHandler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if sup.Status().Healthy {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
			if engine.Running() {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
		metricsAddr := fmt.Sprintf(":%d", opts.metricsPort)
		go func() {
			log.Info().Str("addr", metricsAddr).Msg("metrics server listening")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	sup.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during engine shutdown")
	}
	if provider != nil {
		_ = provider.Shutdown(shutdownCtx)
	}
	return nil
}
