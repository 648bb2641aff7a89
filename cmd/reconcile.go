package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	errs "github.com/frahmantamala/partner-payout/internal"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <batch-id>",
	Short: "Reconcile one payout batch now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return fmt.Errorf("failed to initialize dependencies: %w", err)
		}
		defer deps.Close()

		ctx, cancel := errs.WithTimeout(context.Background(), deps.Config.Gateway.Timeout*2)
		defer cancel()

		result, err := deps.Reconcile.Reconcile(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
