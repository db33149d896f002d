// Command connectord runs the connector engine as a daemon: it registers the
// built-in and configured connector definitions, wires the vault, stores,
// transport, and audit sink from configuration, and serves the engine over a
// small HTTP API alongside a Prometheus metrics endpoint.
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/audit"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/clients"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/config"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/builtin"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/engine"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/instance"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/registry"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/validate"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/metrics"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/store/memory"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/store/postgres"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/transform"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/vault"
)

var version = "0.3.0"

func main() {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	v.SetEnvPrefix("CONNECTORD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "connectord",
		Short: "Care-home external-system connector engine",
		Long: `connectord hosts the connector engine: a registry of external-system
integration definitions, credentialed per-tenant instances, and an execution
pipeline with validation, transformation, rate limiting, and retries.`,
	}
	root.PersistentFlags().String("config", "", "path to engine config file")
	root.PersistentFlags().String("listen", ":8080", "API listen address")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("listen", root.PersistentFlags().Lookup("listen"))

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("connectord v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate [definition files...]",
		Short: "Validate connector definition files without registering them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Definitions = args
			defs, err := cfg.LoadDefinitions()
			if err != nil {
				return err
			}
			for _, def := range defs {
				if err := validate.Definition(def); err != nil {
					return fmt.Errorf("%s: %w", def.ID, err)
				}
				fmt.Printf("%s (%s) ok: %d endpoints\n", def.ID, def.Version, len(def.Endpoints))
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in connector definitions",
		Run: func(cmd *cobra.Command, args []string) {
			for _, def := range builtin.All() {
				fmt.Printf("%-20s %-8s %s\n", def.ID, def.Version, def.Name)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the connector engine daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v.GetString("config"), v.GetString("listen"))
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	log := logger.Get().With(zap.String("component", "connectord"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credentialVault, err := buildVault(cfg.Vault)
	if err != nil {
		return err
	}

	sink, err := buildAuditSink(cfg.Audit)
	if err != nil {
		return err
	}

	instanceStore, executionStore, err := buildStores(ctx, cfg.Store)
	if err != nil {
		return err
	}

	reg := registry.NewRegistry(sink)
	if err := builtin.Register(ctx, reg); err != nil {
		return err
	}
	defs, err := cfg.LoadDefinitions()
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := reg.Register(ctx, def); err != nil {
			return err
		}
	}

	manager := instance.NewManager(reg, instanceStore, credentialVault, sink)

	var pipelineOpts []transform.Option
	if cfg.Pipeline.LenientConversion {
		pipelineOpts = append(pipelineOpts, transform.WithLenientConversion())
	}

	eng := engine.New(engine.Config{
		Registry:   reg,
		Instances:  manager,
		Executions: executionStore,
		Transport:  clients.NewHTTPTransport(cfg.Transport),
		Pipeline:   transform.New(pipelineOpts...),
		Audit:      sink,
		AuditRetry: cfg.Audit.Retry,
		Metrics:    metrics.NewCollector(prometheus.DefaultRegisterer),
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listening", zap.String("address", cfg.Metrics.Address))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	api := &http.Server{
		Addr:              listen,
		Handler:           newAPI(reg, manager, eng),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("address", listen))
		if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown failed", zap.Error(err))
		}
	}
	return nil
}

func buildVault(cfg config.VaultConfig) (core.CredentialVault, error) {
	switch cfg.Backend {
	case "transit":
		return vault.NewTransitVault(vault.TransitConfig{
			Address: cfg.Address,
			Token:   cfg.Token,
			Mount:   cfg.Mount,
			Key:     cfg.TransitKey,
		})
	default:
		key, err := decodeVaultKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		return vault.NewLocalVault(key)
	}
}

// decodeVaultKey accepts a 32-byte key as base64, hex, or raw text.
func decodeVaultKey(key string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("vault.key must decode to 32 bytes")
}

func buildAuditSink(cfg config.AuditConfig) (core.AuditSink, error) {
	switch cfg.Backend {
	case "kafka":
		return audit.NewKafkaSink(cfg.Kafka)
	default:
		return audit.NewLogSink(), nil
	}
}

func buildStores(ctx context.Context, cfg config.StoreConfig) (core.InstanceStore, core.ExecutionStore, error) {
	if cfg.Backend != "postgres" {
		return memory.NewInstanceStore(), memory.NewExecutionStore(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return nil, nil, err
	}
	return postgres.NewInstanceStore(pool), postgres.NewExecutionStore(pool), nil
}
