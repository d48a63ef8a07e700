package main

import (
	"context"
	"fmt"

	"github.com/cuemby/bellhop/pkg/config"
	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/manager"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the sent ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notification attempts",
	Long: `List notification attempts recorded in the sent ledger.

Entries that are not "sent" are gaps: the customer may or may not have been
emailed and someone has to follow up by hand. They are never retried.

Examples:
  # Every gap of one tenant, asking the running node
  bellhop ledger list --tenant acme --gaps

  # Read the ledger directly while the node is stopped
  bellhop ledger list --config /etc/bellhop/bellhop.yaml`,
	RunE: runLedgerList,
}

func init() {
	ledgerListCmd.Flags().String("tenant", "", "Only entries of this tenant")
	ledgerListCmd.Flags().Bool("gaps", false, "Only entries needing manual follow-up")
	ledgerListCmd.Flags().StringP("config", "c", "", "Read the ledger configured in this file instead of asking a node")

	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	gaps, _ := cmd.Flags().GetBool("gaps")
	configPath, _ := cmd.Flags().GetString("config")

	var (
		entries []*types.LedgerEntry
		err     error
	)
	if configPath != "" {
		entries, err = readLedger(cmd.Context(), configPath, tenant, gaps)
	} else {
		entries, err = newClient(cmd).Ledger(cmd.Context(), tenant, gaps)
	}
	if err != nil {
		return fmt.Errorf("failed to list ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No ledger entries")
		return nil
	}

	fmt.Printf("%-20s %-36s %-10s %-8s %-20s %s\n", "TENANT", "RECORD", "TARGET", "STATE", "UPDATED", "ERROR")
	for _, e := range entries {
		fmt.Printf("%-20s %-36s %-10s %-8s %-20s %s\n",
			e.TenantID, e.EntityID, e.Target, e.State,
			e.UpdatedAt.Format("2006-01-02 15:04:05"), e.Error)
	}
	return nil
}

// readLedger opens only the configured ledger backend. The bolt file is
// locked by a running node, so this is for stopped nodes and shared ledgers.
func readLedger(ctx context.Context, path, tenant string, gapsOnly bool) ([]*types.LedgerEntry, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Records.Backend = "memory"
	cfg.Feed.Backend = "none"
	cfg.Notify.Transport = "none"

	broker := events.NewBroker()
	backends, err := manager.OpenBackends(cfg, broker)
	if err != nil {
		return nil, err
	}
	defer backends.Close()

	if gapsOnly {
		return dispatch.Gaps(ctx, backends.Ledger, tenant)
	}
	return backends.Ledger.List(ctx, tenant)
}
