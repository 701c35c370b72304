package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/wire"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [need-id]",
	Short: "Runs one dispatch cycle for a need and reports the outcome",
	Long: `Runs one dispatch cycle for a need and reports the outcome.

The cycle runs synchronously: it selects eligible candidates from the need's
ranking list, resolves conflicts against other dispatching needs, issues as
many offers as the need's strategy allows and sends the request notifications
before returning.

Examples:
  orchestra-cli dispatch 5f1c9d2e-0d38-4c8e-9a41-7b9f4f4f2a10
  orchestra-cli dispatch --conflict-policy smart 5f1c9d2e-0d38-4c8e-9a41-7b9f4f4f2a10`,
	Args: cobra.ExactArgs(1),
	RunE: runDispatch,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	needID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid need id %q: %w", args[0], err)
	}

	app, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize app services: %w", err)
	}
	defer cleanup()

	if err := app.Engine.OpenDispatch(ctx, needID); err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Wait for any background notification sessions started by the cycle.
	app.Batcher.Stop()

	need, err := app.Store.GetNeed(ctx, needID)
	if err != nil {
		return fmt.Errorf("failed to reload need: %w", err)
	}
	offers, err := app.Store.ListOffersByNeed(ctx, needID)
	if err != nil {
		return fmt.Errorf("failed to list offers: %w", err)
	}

	pending := 0
	for _, offer := range offers {
		if offer.Status == core.OfferPending {
			pending++
		}
	}
	fmt.Printf("need %s: %s, %d/%d accepted, %d offers pending\n",
		need.ID, need.Status, need.AcceptedCount, need.Quantity, pending)
	return nil
}
