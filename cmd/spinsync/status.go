package main

import (
	"context"
	"fmt"

	"github.com/hyperengineering/spinsync/internal/types"
	"github.com/spf13/cobra"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync state of every scope",
	Args:  cobra.NoArgs,
	RunE:  withApp(runStatus),
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output in JSON format")
}

func runStatus(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	scopes, err := a.coord.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	if statusJSONOutput {
		return printJSON(cmd.OutOrStdout(), types.StatusResponse{Scopes: scopes})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "SCOPE\tSYNCING\tLAST SYNCED")
	for _, s := range scopes {
		syncing := "no"
		if s.Syncing {
			syncing = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Scope, syncing, s.LastHuman)
	}
	return w.Flush()
}
