package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending mutation queue against the remote store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		before, err := a.sync.Snapshot(ctx)
		if err != nil {
			return err
		}
		if before.Pending == 0 {
			fmt.Println("Queue is empty, nothing to sync")
			return nil
		}

		fmt.Printf("Syncing %d pending mutations...\n", before.Pending)
		if err := a.goOnline(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		after, err := a.sync.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Done: %d synced, %d pending, %d failed\n",
			before.Pending-after.Pending, after.Pending, after.Failed)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and failed items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		state, err := a.sync.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Pending: %d\n", state.Pending)
		fmt.Printf("Failed:  %d\n", state.Failed)

		if state.Failed > 0 {
			items, err := a.local.FailedItems(ctx, a.cfg.MaxRetries)
			if err != nil {
				return err
			}
			fmt.Println("\nParked items:")
			for _, item := range items {
				fmt.Printf("  %s %s %s (%d attempts): %s\n",
					item.Operation, item.EntityType, item.EntityID, item.RetryCount, item.Error)
			}
		}
		return nil
	},
}
