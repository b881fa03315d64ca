package cmd

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/docflow/internal/cache"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the persisted content cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the number of cached entries per namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		store, err := newCacheStore(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer func() { _ = store.Dispose() }()

		out := cmd.OutOrStdout()
		if !cfg.Cache.Persist {
			_, _ = fmt.Fprintln(out, "Cache persistence is disabled (cache.persist = false)")
		} else {
			_, _ = fmt.Fprintf(out, "Cache directory: %s\n", cfg.Cache.Dir)
		}
		_, _ = fmt.Fprintf(out, "Freshness: %s\n", store.Freshness())
		for _, ns := range cache.Namespaces() {
			_, _ = fmt.Fprintf(out, "  %-10s %d\n", ns, store.Len(ns))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [namespace]",
	Short: "Clear one namespace or the whole cache",
	Long: `Clear cached entries. Without an argument every namespace is cleared.

Examples:
  docflow cache clear
  docflow cache clear content`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		store, err := newCacheStore(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer func() { _ = store.Dispose() }()

		if len(args) == 0 {
			if err := store.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cache namespaces")
			return nil
		}

		ns, err := cache.ParseNamespace(args[0])
		if err != nil {
			return err
		}
		if err := store.ClearNamespace(ns); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared cache namespace %s\n", ns)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
}
