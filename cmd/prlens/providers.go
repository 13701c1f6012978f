package main

import (
	"github.com/spf13/cobra"

	"prlens-backend/internal/output"
	"prlens-backend/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List AI providers and whether each has an API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := provider.NewRegistry(cfg.ProviderKeys)

		available := make(map[string]bool)
		for _, p := range registry.Available() {
			available[p.ID] = true
		}

		table := ui.Table([]string{"ID", "Name", "Model", "Key", "Status"})
		defaultSet := false
		for _, p := range provider.Table() {
			status := output.Red("missing key")
			if available[p.ID] {
				status = output.Green("available")
				if !defaultSet {
					status += " (default)"
					defaultSet = true
				}
			}
			_ = table.Append([]string{p.ID, p.Name, p.Model, p.EnvKey, status})
		}
		if err := table.Render(); err != nil {
			return err
		}

		if !defaultSet {
			ui.Warning("No AI provider configured; reviews will fail until one of the keys is set")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
