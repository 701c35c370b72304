package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/STageSub/orchestra-system-sub002/internal/wire"
)

var outputJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows all needs currently being dispatched",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		app, cleanup, err := wire.InitializeApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app services: %w", err)
		}
		defer cleanup()

		needs, err := app.Store.ListActiveNeeds(ctx)
		if err != nil {
			return fmt.Errorf("failed to retrieve active needs: %w", err)
		}

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(needs)
		}

		if len(needs) == 0 {
			slog.Info("No needs are currently being dispatched.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NEED\tSTRATEGY\tACCEPTED\tQUANTITY\tWINDOW\tCREATED")
		for _, need := range needs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%dh\t%s\n",
				need.ID,
				need.Strategy,
				need.AcceptedCount,
				need.Quantity,
				need.ResponseWindowHours,
				need.CreatedAt.Format(time.RFC822),
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}
