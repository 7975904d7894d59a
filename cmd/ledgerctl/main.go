// Command ledgerctl is the operator CLI for production logs: inspect and
// clear period locks, list and verify ledgers, and issue API tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prodlog/internal/app"
	"prodlog/internal/config"
	"prodlog/internal/core/types"
	"prodlog/pkg/logger"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Production log operator CLI",
		Long: `ledgerctl works directly against the configured ledger storage.

Settings come from PRODLOG_* environment variables. A config file
(default ~/.prodlog/config.yaml) and flags override them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.prodlog/config.yaml)")
	root.PersistentFlags().String("storage", "", "storage backend: memory, fs, postgres, drive")
	root.PersistentFlags().String("storage-dir", "", "ledger root directory for fs storage")
	root.PersistentFlags().String("lock", "", "lock backend: marker, file, redis")
	_ = viper.BindPFlag("storage_backend", root.PersistentFlags().Lookup("storage"))
	_ = viper.BindPFlag("storage_dir", root.PersistentFlags().Lookup("storage-dir"))
	_ = viper.BindPFlag("lock_backend", root.PersistentFlags().Lookup("lock"))

	root.AddCommand(newLockCmd(), newEntriesCmd(), newVerifyCmd(), newTokenCmd(), newVersionCmd())
	return root
}

func readConfigFile() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home + "/.prodlog")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// loadConfig reads the environment, then applies config file and flag values.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return nil, err
	}
	overrideString(&cfg.StorageBackend, "storage_backend")
	overrideString(&cfg.StorageDir, "storage_dir")
	overrideString(&cfg.LockBackend, "lock_backend")
	overrideString(&cfg.PostgresDSN, "postgres_dsn")
	overrideString(&cfg.RedisAddr, "redis_addr")
	overrideString(&cfg.JWTSecret, "jwt_secret")
	overrideString(&cfg.RefDataFile, "refdata_file")
	overrideString(&cfg.Numbering, "numbering")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(viper.GetString(key)); v != "" {
		*dst = v
	}
}

// openApp wires storage and locks for one command run.
func openApp(cmd *cobra.Command) (context.Context, *app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{Level: "warn", Development: true})
	if err != nil {
		return nil, nil, err
	}
	ctx := logger.WithLogger(cmd.Context(), log)
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return ctx, a, nil
}

func parsePeriodArg(s string) (types.Period, error) {
	p, err := types.ParsePeriod(s)
	if err != nil {
		return types.Period{}, fmt.Errorf("%w (want YYYY-MM)", err)
	}
	return p, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ledgerctl", version)
		},
	}
}
