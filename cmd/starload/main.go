package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/internal/pipeline"
	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/logger"
	"github.com/ajitpratap0/starload/pkg/metrics"
	"github.com/ajitpratap0/starload/pkg/tracing"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "starload:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	var configFile string

	root := &cobra.Command{
		Use:   "starload",
		Short: "starload - batch loader for the e-commerce star schema",
		Long: `starload reads the olist order, item, payment, product and customer
files plus the review documents, conforms them into one record per order and
loads a star schema (five dimensions, one fact table) into a SQL warehouse.

Every run is idempotent: rerunning over the same files writes nothing new.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().String("warehouse-driver", "", "Warehouse driver (postgres, mysql, sqlite)")
	root.PersistentFlags().String("warehouse-dsn", "", "Warehouse connection string")
	root.PersistentFlags().String("sources-dir", "", "Directory or bucket URL holding the source files")
	root.PersistentFlags().String("reviews-uri", "", "MongoDB connection string of the review store")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	bindFlags(v, root)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("starload v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the load once",
		Long: `Run extracts every source, conforms the records, resolves the dimension
keys and loads the fact table. The run report is printed as JSON.

Example:
  starload run --warehouse-dsn postgres://etl@localhost/pd_dw --sources-dir ./input`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, v)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the star schema tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, v)
			if err != nil {
				return err
			}
			p, err := pipeline.New(cfg, pipeline.WithLogger(logger.Get()))
			if err != nil {
				return err
			}
			defer p.Close()
			return p.Migrate(cmd.Context())
		},
	})

	root.AddCommand(newConfigCommand(&configFile, v))

	return root
}

func newConfigCommand(configFile *string, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a YAML file",
		Long: `Init writes the defaults, overridden by --config, STARLOAD_* variables
and flags, to path (starload.yaml by default). An existing file is kept
unless --force is given.

Example:
  starload config init --warehouse-dsn postgres://etl@localhost/pd_dw`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "starload.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg, err := loadConfig(*configFile, v)
			if err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	keys := map[string]string{
		"warehouse-driver": "warehouse.driver",
		"warehouse-dsn":    "warehouse.dsn",
		"sources-dir":      "sources.dir",
		"reviews-uri":      "reviews.uri",
		"log-level":        "observability.logging.level",
	}
	for flag, key := range keys {
		_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
	}
}

// loadConfig reads the YAML file, applies environment and flag overrides,
// and initializes the global logger from the result.
func loadConfig(path string, v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	config.Overlay(cfg, v)
	if err := logger.Init(cfg.Observability.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runPipeline(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Get().With(zap.String("component", "starload-cli"))
	defer func() { _ = logger.Sync() }()

	tracer, err := tracing.Setup(cfg.Observability.Tracing, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	p, err := pipeline.New(cfg, pipeline.WithLogger(logger.Get()), pipeline.WithTracer(tracer))
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("failed to close lock client", zap.Error(err))
		}
	}()

	report, runErr := p.Run(ctx)

	if cfg.Observability.Metrics.Enabled && cfg.Observability.Metrics.PushGateway != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.Observability.Metrics.PushGateway, cfg.Observability.Metrics.Job, cfg.Name); err != nil {
			log.Warn("failed to push metrics", zap.Error(err))
		}
		cancel()
	}

	if report != nil {
		out, err := report.JSON()
		if err != nil {
			log.Warn("failed to encode run report", zap.Error(err))
		} else {
			fmt.Println(string(out))
		}
	}
	return runErr
}
