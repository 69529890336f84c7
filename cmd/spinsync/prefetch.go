package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Manage prefetch snapshots",
	Long:  "Write or purge the listing snapshots that prefetch passes read from.",
}

var prefetchArtistsCmd = &cobra.Command{
	Use:   "artists",
	Short: "Snapshot the artist listing",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		ids, err := a.writer.WriteArtists(ctx)
		if err != nil {
			return fmt.Errorf("prefetch artists: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote artist snapshot (%d artists)\n", len(ids))
		return nil
	}),
}

var prefetchOffersCmd = &cobra.Command{
	Use:   "offers",
	Short: "Snapshot the offer listing of every artist",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		ids, err := a.writer.WriteArtists(ctx)
		if err != nil {
			return fmt.Errorf("prefetch artists: %w", err)
		}
		if err := a.writer.WriteOffers(ctx, ids); err != nil {
			return fmt.Errorf("prefetch offers: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote offer snapshots for %d artists\n", len(ids))
		return nil
	}),
}

var prefetchPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every prefetch snapshot",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		n, err := a.coord.PurgePrefetch(ctx)
		if err != nil {
			return fmt.Errorf("purge prefetch: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d snapshots\n", n)
		return nil
	}),
}

func init() {
	prefetchCmd.AddCommand(prefetchArtistsCmd)
	prefetchCmd.AddCommand(prefetchOffersCmd)
	prefetchCmd.AddCommand(prefetchPurgeCmd)
}
