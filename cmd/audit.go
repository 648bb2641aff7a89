package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/frahmantamala/partner-payout/internal/ledger"
	"github.com/spf13/cobra"
)

var errLedgerDrift = errors.New("ledger drift detected")

var auditCmd = &cobra.Command{
	Use:   "audit [partner-id]",
	Short: "Compare stored balances with the ledger log",
	Long:  `Replay the ledger for one partner, or for every partner when no id is given, and report any balance that disagrees.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return fmt.Errorf("failed to initialize dependencies: %w", err)
		}
		defer deps.Close()

		ctx := context.Background()
		var drifted []ledger.Drift
		if len(args) == 1 {
			drift, _, err := deps.Ledger.Audit(ctx, args[0])
			if err != nil {
				return err
			}
			if !drift.Consistent {
				drifted = append(drifted, *drift)
			}
		} else {
			drifted, err = deps.Ledger.AuditAll(ctx)
			if err != nil {
				return err
			}
		}

		if len(drifted) == 0 {
			fmt.Println("ledger is consistent")
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(drifted); err != nil {
			return err
		}
		return errLedgerDrift
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
