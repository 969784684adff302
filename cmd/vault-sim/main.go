package main

import (
	"context"
	"encoding/json"
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

	"stakevault/config"
	"stakevault/core/events"
	"stakevault/native/bank"
	nativecommon "stakevault/native/common"
	"stakevault/native/vault"
	"stakevault/observability/logging"
	"stakevault/observability/metrics"
	"stakevault/observability/otel"
	"stakevault/storage"
	"stakevault/storage/journal"
	"stakevault/tools/vaultsim"
)

const serviceName = "vault-sim"

type options struct {
	configPath   string
	scenarioPath string
	pace         float64
	metricsAddr  string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "./vault.toml", "Path to vault configuration file")
	flag.StringVar(&opts.scenarioPath, "scenario", "", "Path to the YAML scenario to replay")
	flag.Float64Var(&opts.pace, "pace", 0, "Maximum scenario steps per second (0 replays immediately)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address after the replay")
	flag.Parse()

	if opts.scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "-scenario is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "vault-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fileOpts, err := cfg.Logging.FileOptions()
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.SetupFile(serviceName, cfg.Environment, fileOpts)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	shutdown, err := otel.Init(ctx, cfg.Telemetry.OTel(serviceName, cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	params, err := cfg.Vault.Params()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	book := bank.NewBook(db)
	base := vaultsim.Account("base-asset")

	engine := vault.NewEngine(params)
	engine.SetState(vault.NewStore(db))
	engine.SetCustody(bank.NewCustody(book, base))
	engine.SetLogger(logger)
	engine.SetMetrics(metrics.Vault())
	pauses := nativecommon.NewStaticPauses()
	pauses.Set("vault", cfg.Vault.Paused)
	engine.SetPauses(pauses)

	emitters := events.Fanout{}
	if cfg.Journal.DSN != "" {
		j, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			return err
		}
		defer j.Close()
		j.SetLogger(logger)
		emitters = append(emitters, j)
	}
	engine.SetEmitter(emitters)

	sc, err := vaultsim.LoadScenario(opts.scenarioPath)
	if err != nil {
		return err
	}
	runner := vaultsim.NewRunner(engine, book, base)
	runner.SetLogger(logger)
	runner.SetPace(opts.pace)

	logger.Info("replaying scenario", slog.String("scenario", sc.Name), slog.String("digest", sc.Digest()), slog.Int("steps", len(sc.Steps)))
	report, runErr := runner.Run(ctx, sc)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	if opts.metricsAddr != "" {
		return serveMetrics(ctx, logger, opts.metricsAddr)
	}
	return nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Database {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		path := filepath.Join(cfg.DataDir, "ledger.db")
		db, err := storage.NewBoltDB(path)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", path, err)
		}
		return db, nil
	}
	path := filepath.Join(cfg.DataDir, "ledger")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return db, nil
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(serviceName, nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
