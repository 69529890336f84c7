package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperengineering/spinsync/internal/types"
	"github.com/spf13/cobra"
)

var (
	syncPrefetch bool
	syncForce    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync pass once and exit",
	Long:  "Run one sync pass against the remote catalog without starting the server.",
}

var syncArtistsCmd = &cobra.Command{
	Use:   "artists",
	Short: "Sync every artist",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		res, err := a.coord.SyncArtists(ctx, syncPrefetch)
		return reportPass(cmd.OutOrStdout(), res, err)
	}),
}

var syncOffersCmd = &cobra.Command{
	Use:   "offers",
	Short: "Sync the offers of every artist",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		res, err := a.coord.SyncOffers(ctx, syncPrefetch, syncForce)
		return reportPass(cmd.OutOrStdout(), res, err)
	}),
}

var syncProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "Sync the SKU products of every offer",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		res, err := a.coord.SyncProducts(ctx, syncForce)
		return reportPass(cmd.OutOrStdout(), res, err)
	}),
}

var syncOfferCmd = &cobra.Command{
	Use:   "offer <id>",
	Short: "Refresh a single offer",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		if err := a.coord.SyncOfferSingle(ctx, args[0]); err != nil {
			return fmt.Errorf("sync offer %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced offer %s\n", args[0])
		return nil
	}),
}

var syncProductCmd = &cobra.Command{
	Use:   "product <offer-id>",
	Short: "Refresh the products of a single offer",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		inStock, err := a.coord.SyncProductSingle(ctx, args[0])
		if err != nil {
			return fmt.Errorf("sync products of offer %s: %w", args[0], err)
		}
		stock := "out of stock"
		if inStock {
			stock = "in stock"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced products of offer %s (%s)\n", args[0], stock)
		return nil
	}),
}

func init() {
	syncCmd.PersistentFlags().BoolVar(&syncPrefetch, "prefetch", false,
		"Read listings from prefetch snapshots when present")
	syncCmd.PersistentFlags().BoolVar(&syncForce, "force", false,
		"Skip dependency gates (offers and products only)")

	syncCmd.AddCommand(syncArtistsCmd)
	syncCmd.AddCommand(syncOffersCmd)
	syncCmd.AddCommand(syncProductsCmd)
	syncCmd.AddCommand(syncOfferCmd)
	syncCmd.AddCommand(syncProductCmd)
}

type appFunc func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error

// withApp wires the app for a one-shot command. Interrupts cancel the
// command context.
func withApp(fn appFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer cancel()

		a, err := loadApp(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, cmd, a, args)
	}
}

func reportPass(w io.Writer, res types.PassResult, err error) error {
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintf(w, "%s: skipped (%s)\n", res.Scope, res.SkipReason)
		return nil
	}

	status := "complete"
	if res.Partial {
		status = "partial"
	}
	fmt.Fprintf(w, "%s: %s, synced %d, failed %d, purged %d in %s\n",
		res.Scope, status, res.Synced, res.Failed, res.Purged, res.Duration.Round(time.Millisecond))
	return nil
}
