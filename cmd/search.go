package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/config"
	"github.com/JakeFAU/storefinder/internal/crawler"
)

func newSearchCmd() *cobra.Command {
	var (
		queries []string
		owner   string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one search in-process and print the matching stores as JSON",
		Example: `  storefinder search -q "usb cable|usb-c cable" -q "phone case"
  storefinder search -q "hdmi cable" --out stores.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			groups, err := parseGroups(queries)
			if err != nil {
				return err
			}
			cfg := rt.cfg
			cfg.Session.Backend = config.BackendMemory
			cfg.Reaper.Enabled = false

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
					rt.logger.Warn("close application failed", zap.Error(cerr))
				}
			}()

			result, err := app.Search(ctx, owner, groups, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return writeResult(cmd.OutOrStdout(), outPath, result)
		},
	}
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil,
		`query group: alternative terms separated by "|" (repeat for each product)`)
	cmd.Flags().StringVar(&owner, "owner", "cli", "owner id the search runs under")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the JSON result to this file instead of stdout")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// parseGroups splits each flag value on "|" into one query group.
func parseGroups(raw []string) ([]crawler.QueryGroup, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one --query is required")
	}
	groups := make([]crawler.QueryGroup, 0, len(raw))
	for _, value := range raw {
		var group crawler.QueryGroup
		for _, term := range strings.Split(value, "|") {
			if term = strings.TrimSpace(term); term != "" {
				group = append(group, term)
			}
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("query %q has no terms", value)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func writeResult(stdout io.Writer, outPath string, result crawler.ResultSet) error {
	if result == nil {
		result = crawler.ResultSet{}
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')
	if outPath == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
