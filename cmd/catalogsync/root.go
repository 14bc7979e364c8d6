package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/config"
	"github.com/JakeFAU/menu-catalog-sync/internal/reconcile"
	"github.com/JakeFAU/menu-catalog-sync/internal/server"
)

type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the wired service. Tests swap in a fake
// through newApp.
type App interface {
	Serve(ctx context.Context) error
	Sync(ctx context.Context, limit int) catalog.SyncRunResult
	Diagnose(ctx context.Context, testURL string) reconcile.Diagnosis
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalogsync",
		Short: "Mirrors a dispensary menu site into the product catalog.",
		Long: `catalogsync discovers product pages on a menu site, extracts product
data from them and reconciles the local catalog, politely and on a schedule.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CATALOG_* env vars override it")

	cmd.AddCommand(newServeCmd(), newSyncCmd(), newDiagnoseCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
