// Package main is the entry point of the vmplacer command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/vmplacer/internal/config"
	"github.com/limiquantix/vmplacer/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// cmdGlobal holds state shared by every subcommand.
type cmdGlobal struct {
	flagConfig string

	viper  *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	server.Version = version

	global := &cmdGlobal{viper: viper.New()}

	root := &cobra.Command{
		Use:   "vmplacer",
		Short: "Places groups of virtual machines onto vSphere hosts",
		Long: `vmplacer decides which host every VM of a cluster spec runs on. It reads the
datacenter inventory from vCenter or a snapshot file, places the requested
groups with the configured engine and records each placement run.`,
		SilenceUsage:      true,
		PersistentPreRunE: global.load,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if global.logger != nil {
				_ = global.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&global.flagConfig, "config", "c", "", "Path to config file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, console)")
	flags.String("inventory", "", "Inventory source (file, vsphere)")
	flags.String("inventory-path", "", "Snapshot file of the file inventory")
	flags.String("engine", "", "Placement engine (roundrobin, weighted)")

	if err := bindFlags(global.viper, flags, map[string]string{
		"logging.level":    "log-level",
		"logging.format":   "log-format",
		"inventory.source": "inventory",
		"inventory.path":   "inventory-path",
		"placement.engine": "engine",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	root.AddCommand(
		(&cmdServe{global: global}).Command(),
		(&cmdPlace{global: global}).Command(),
		(&cmdWait{global: global}).Command(),
		(&cmdSnapshot{global: global}).Command(),
		(&cmdWatch{global: global}).Command(),
		(&cmdToken{global: global}).Command(),
		(&cmdVersion{}).Command(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// bindFlags binds config keys to flags so that a set flag overrides the file and
// the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	return nil
}

// load reads the configuration and builds the logger.
func (g *cmdGlobal) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWith(g.viper, g.flagConfig)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	g.cfg = cfg

	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	g.logger = logger
	return nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	// Command output goes to stdout.
	zapConfig.OutputPaths = []string{"stderr"}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
