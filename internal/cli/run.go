package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gomarketplace_sync/internal/api"
	"gomarketplace_sync/internal/auth"
	"gomarketplace_sync/internal/catalog/app"
	"gomarketplace_sync/pkg/logger"
)

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass: feed -> store -> storefront",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			out, err := s.runner.RunSync(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if out.Status == app.StatusPartial {
				return fmt.Errorf("%d items failed", out.Report.Summary.Failed)
			}
			return nil
		},
	}
}

func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare storefront, store and feed and report drift",
		Long: `Compare the storefront, the local store and the feed and report every discrepancy.

With --repair, orphaned remote products and stale store records are removed and wrong
remote ids are corrected, provided the safety guard allows it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			audit, err := s.runner.RunAudit(cmd.Context(), repair)
			if perr := printJSON(cmd.OutOrStdout(), audit); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "act on the findings")
	return cmd
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and run sync passes on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			var wg sync.WaitGroup
			if interval > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					schedule(ctx, interval, s.runner, s.log.WithPrefix("[Scheduler]"))
				}()
			}
			err = api.NewServer(s.runner, s.cfg.API.JWTSecret, s.log).ListenAndServe(ctx, s.cfg.API.Listen)
			stop()
			wg.Wait()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "run a sync pass every interval; 0 disables the scheduler")
	return cmd
}

// schedule runs a sync pass right away and then every interval until ctx is done.
func schedule(ctx context.Context, interval time.Duration, runner api.Runner, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		out, err := runner.RunSync(ctx)
		switch {
		case errors.Is(err, app.ErrRunInProgress):
			log.Warn("previous run still in progress, skipping")
		case err != nil:
			log.Error("sync run failed: %v", err)
		default:
			log.Log("sync run %s finished: %s", out.RunID, out.Status)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		role    string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleViewer && role != auth.RoleOperator {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := loadConfigOnly(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(cfg.API.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "viewer or operator")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
