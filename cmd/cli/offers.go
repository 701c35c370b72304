package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/STageSub/orchestra-system-sub002/internal/wire"
)

var offersJSON bool

var offersCmd = &cobra.Command{
	Use:   "offers [need-id]",
	Short: "Lists every offer made for a need, in dispatch order",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
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

		offers, err := app.Store.ListOffersByNeed(ctx, needID)
		if err != nil {
			return fmt.Errorf("failed to retrieve offers: %w", err)
		}

		if offersJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(offers)
		}

		if len(offers) == 0 {
			slog.Info("No offers have been made for this need yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "OFFER\tCANDIDATE\tSTATUS\tSENT\tEXPIRES\tREMINDED")
		for _, offer := range offers {
			reminded := "-"
			if offer.RemindedAt != nil {
				reminded = offer.RemindedAt.Format(time.RFC822)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				offer.ID,
				offer.CandidateID,
				offer.Status,
				offer.SentAt.Format(time.RFC822),
				offer.ExpiresAt.Format(time.RFC822),
				reminded,
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	offersCmd.Flags().BoolVar(&offersJSON, "json", false, "Output offers as JSON")
	rootCmd.AddCommand(offersCmd)
}
