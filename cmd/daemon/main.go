package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	keybroker "github.com/i5heu/ouroboros-keybroker"
	"github.com/i5heu/ouroboros-keybroker/pkg/apiServer"
	"github.com/i5heu/ouroboros-keybroker/pkg/logging"
	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd/localVetkd"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyDataPath   = "dataPath"
	logKeyVetkdURL   = "vetkdUrl"
	logKeyLocalVetkd = "localVetkd"
	logKeyInMemory   = "inMemory"
	logKeySignal     = "signal"
	logKeyError      = "error"
	logKeyKeyPath    = "keyPath"
	logKeyAddress    = "address"
)

const shutdownTimeout = 10 * time.Second

func main() { // A
	cfg := parseFlags()

	logLevel := slog.LevelInfo
	if cfg.debug {
		logLevel = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, logLevel, cfg.noColor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(
			ctx,
			"received shutdown signal",
			logKeySignal,
			sig.String(),
		)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(context.Background(), "daemon error", logKeyError, err)
		os.Exit(1)
	}
}

// daemonConfig holds the parsed command line configuration.
type daemonConfig struct { // A
	configPath        string
	dataPath          string
	listenAddr        string
	vetkdURL          string
	inMemory          bool
	localVetkd        bool
	localVetkdListen  string
	trustCallerHeader bool
	debug             bool
	noColor           bool
}

func parseFlags() daemonConfig { // A
	cfg := daemonConfig{}

	flag.StringVar(&cfg.configPath, "config", "",
		"Path to a YAML config file")
	flag.StringVar(&cfg.dataPath, "data", "",
		"Path to data directory (overrides config)")
	flag.StringVar(&cfg.listenAddr, "listen", "",
		"Address the API listens on (overrides config)")
	flag.StringVar(&cfg.vetkdURL, "vetkd-url", "",
		"Base URL of the key derivation service (overrides config)")
	flag.BoolVar(&cfg.inMemory, "in-memory", false,
		"Keep all state in memory")

	// Intentionally ugly names to indicate UNSECURE
	flag.BoolVar(&cfg.localVetkd, "UNSECURE-local-vetkd", false,
		"Derive keys in-process from a local master secret (INSECURE - development only)")
	flag.StringVar(&cfg.localVetkdListen, "UNSECURE-local-vetkd-listen", "",
		"Also serve the local derivation service on this address (INSECURE)")
	flag.BoolVar(&cfg.trustCallerHeader, "UNSECURE-trust-caller-header", false,
		"Take the caller principal from the "+apiServer.CallerHeader+" header (INSECURE)")

	flag.BoolVar(&cfg.debug, "debug", false,
		"Enable debug logging")
	flag.BoolVar(&cfg.noColor, "no-color", false,
		"Disable colored log output")

	flag.Parse()

	return cfg
}

// loadConfig merges the config file, if any, with the flags.
func loadConfig(cfg daemonConfig) (keybroker.FileConfig, error) { // A
	var (
		fc  keybroker.FileConfig
		err error
	)
	if cfg.configPath != "" {
		fc, err = keybroker.LoadConfig(cfg.configPath)
	} else {
		fc, err = keybroker.ParseConfig(nil)
	}
	if err != nil {
		return keybroker.FileConfig{}, err
	}

	if cfg.dataPath != "" {
		fc.Paths = []string{cfg.dataPath}
	}
	if len(fc.Paths) == 0 {
		fc.Paths = []string{"./data"}
	}
	if cfg.listenAddr != "" {
		fc.Listen = cfg.listenAddr
	}
	if cfg.vetkdURL != "" {
		fc.VetKD.URL = cfg.vetkdURL
	}
	if cfg.inMemory {
		fc.InMemory = true
	}
	return fc, nil
}

// run is the main daemon logic, separated for testability.
func run(
	ctx context.Context,
	cfg daemonConfig,
	logger *slog.Logger,
) error { // A
	fc, err := loadConfig(cfg)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting keybroker daemon",
		logKeyListenAddr, fc.Listen,
		logKeyDataPath, fc.Paths[0],
		logKeyInMemory, fc.InMemory,
		logKeyVetkdURL, fc.VetKD.URL,
		logKeyLocalVetkd, cfg.localVetkd)

	if err := os.MkdirAll(fc.Paths[0], 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	brokerConfig := fc.Config()
	brokerConfig.Logger = logger
	brokerConfig.StoreLogger = logging.NewStoreLogger(os.Stderr, cfg.debug)

	var servers []*http.Server
	switch {
	case cfg.localVetkd:
		keyPath := filepath.Join(fc.Paths[0], "localVetkd.key")
		secret, err := localVetkd.LoadOrCreateMasterSecret(keyPath)
		if err != nil {
			return fmt.Errorf("local vetkd master secret: %w", err)
		}
		service, err := localVetkd.New(secret, brokerConfig.VetKDKeyID)
		if err != nil {
			return fmt.Errorf("create local vetkd: %w", err)
		}
		logger.WarnContext(ctx, "using INSECURE local key derivation", logKeyKeyPath, keyPath)
		brokerConfig.VetKD = service

		if cfg.localVetkdListen != "" {
			servers = append(servers, &http.Server{
				Addr:              cfg.localVetkdListen,
				Handler:           vetkd.NewHandler(service, logger),
				ReadHeaderTimeout: 10 * time.Second,
			})
		}
	case fc.VetKD.URL != "":
		brokerConfig.VetKD = vetkd.NewHTTPClient(fc.VetKD.URL, vetkd.WithLogger(logger))
	default:
		return errors.New("no key derivation service: set vetkd.url, -vetkd-url or -UNSECURE-local-vetkd")
	}

	broker, err := keybroker.New(brokerConfig)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := broker.Close(shutdownCtx); err != nil {
			logger.WarnContext(context.Background(), "error closing broker", logKeyError, err)
		}
	}()

	apiOpts := []apiServer.Option{apiServer.WithLogger(logger)}
	if cfg.trustCallerHeader {
		logger.WarnContext(ctx, "trusting caller header, anyone can act as anyone",
			"header", apiServer.CallerHeader)
		apiOpts = append(apiOpts, apiServer.WithCaller(apiServer.HeaderCaller))
	}
	servers = append(servers, &http.Server{
		Addr:              fc.Listen,
		Handler:           apiServer.New(broker, apiOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	})

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.InfoContext(ctx, "listening", logKeyAddress, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.InfoContext(ctx, "daemon shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnContext(context.Background(), "error stopping server", logKeyAddress, srv.Addr, logKeyError, err)
		}
	}
	return serveErr
}
