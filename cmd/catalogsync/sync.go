package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

var errRunFailed = errors.New("sync run failed")

func newSyncCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Runs one sync and prints the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result := appInstance.Sync(ctx, limit)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if result.Status == catalog.RunStatusError {
				appInstance.Logger().Error("sync failed", zap.Strings("errors", result.Errors))
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum products to process (0 uses sync.max_products_per_sync)")
	return cmd
}
