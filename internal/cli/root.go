package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gomarketplace_sync/config"
	"gomarketplace_sync/internal/api"
	"gomarketplace_sync/internal/catalog/app"
	"gomarketplace_sync/pkg/logger"
)

// RunnerFactory assembles the catalog server from a loaded config.
type RunnerFactory func(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (api.Runner, io.Closer, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogFile    string
	Quiet      bool

	newRunner RunnerFactory
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(func(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (api.Runner, io.Closer, error) {
		return app.NewFromConfig(ctx, cfg, log)
	})
}

func newRootCommand(factory RunnerFactory) *cobra.Command {
	opts := &RootOptions{newRunner: factory}

	cmd := &cobra.Command{
		Use:           "catalogsync",
		Short:         "Keep a storefront catalog in step with the supplier feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the YAML config")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "append logs to this file as well")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "do not mirror logs to stderr")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// session is what every run command needs: config, logger and an assembled runner.
type session struct {
	cfg    *config.AppConfig
	log    *logger.BaseLogger
	runner api.Runner
	close  func()
}

func (o *RootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := loadConfigOnly(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	var writer io.Writer
	var logFile *os.File
	if o.LogFile != "" {
		logFile, err = os.OpenFile(o.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writer = logFile
	}
	log := logger.NewLogger(writer, "[CatalogSync]")
	log.SetConsole(!o.Quiet)

	runner, closer, err := o.newRunner(ctx, cfg, log)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}
	return &session{
		cfg:    cfg,
		log:    log,
		runner: runner,
		close: func() {
			if closer != nil {
				closer.Close()
			}
			if logFile != nil {
				logFile.Close()
			}
		},
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfigOnly(path string) (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
