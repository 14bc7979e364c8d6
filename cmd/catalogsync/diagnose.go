package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/menu-catalog-sync/internal/config"
)

func newDiagnoseCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Fetches and parses one page and samples discovery without writing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target != "" {
				if err := config.CheckBaseURL(target); err != nil {
					return fmt.Errorf("--url: %w", err)
				}
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report := appInstance.Diagnose(cmd.Context(), target)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "page to test (defaults to sync.menu_base_url)")
	return cmd
}
