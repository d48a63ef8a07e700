package main

import (
	"fmt"
	"os"

	"github.com/cuemby/bellhop/pkg/client"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage the records of a board",
}

var recordListCmd = &cobra.Command{
	Use:   "list TENANT KIND",
	Short: "List the records a board currently knows",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := boardArgs(args)
		if err != nil {
			return err
		}
		records, err := newClient(cmd).Records(cmd.Context(), board)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No records")
			return nil
		}

		fmt.Printf("%-36s %-12s %-8s %s\n", "ID", "STATUS", "TABLE", "CREATED")
		for _, r := range records {
			fmt.Printf("%-36s %-12s %-8s %s\n", r.ID, r.Status, r.TableID, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var recordAddCmd = &cobra.Command{
	Use:   "add TENANT KIND",
	Short: "Insert a record into a board's store",
	Long: `Insert a record into a board's store.

Examples:
  # A new order for the customer
  bellhop record add acme order --attr customer_name=Ana --attr customer_email=ana@example.com

  # A reservation with a table already assigned
  bellhop record add acme reservation --table T4 --attr party_size=4`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := boardArgs(args)
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		status, _ := cmd.Flags().GetString("status")
		table, _ := cmd.Flags().GetString("table")
		attrs, _ := cmd.Flags().GetStringToString("attr")

		doc := &types.RecordDoc{ID: id, Status: status, TableID: table, Attributes: attrs}
		created, err := newClient(cmd).AddRecord(cmd.Context(), board, doc)
		if err != nil {
			return fmt.Errorf("failed to add record: %w", err)
		}
		fmt.Printf("✓ Record created: %s (status=%s)\n", created.ID, created.Status)
		return nil
	},
}

// RecordFile is the YAML layout read by record import
type RecordFile struct {
	Tenant  string        `yaml:"tenant"`
	Kind    string        `yaml:"kind"`
	Records []RecordEntry `yaml:"records"`
}

type RecordEntry struct {
	ID         string            `yaml:"id"`
	Status     string            `yaml:"status"`
	Table      string            `yaml:"table"`
	Attributes map[string]string `yaml:"attributes"`
}

var recordImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Insert records from a YAML file",
	Long: `Insert records from a YAML file.

Example file:
  tenant: acme
  kind: order
  records:
    - attributes:
        customer_name: Ana
        customer_email: ana@example.com
    - id: order-17
      status: confirmed`,
	RunE: runRecordImport,
}

func runRecordImport(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var file RecordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if file.Tenant == "" || file.Kind == "" {
		return fmt.Errorf("tenant and kind are required")
	}
	board, err := boardArgs([]string{file.Tenant, file.Kind})
	if err != nil {
		return err
	}

	c := newClient(cmd)
	var failed int
	for i, entry := range file.Records {
		doc := &types.RecordDoc{
			ID:         entry.ID,
			Status:     entry.Status,
			TableID:    entry.Table,
			Attributes: entry.Attributes,
		}
		created, err := c.AddRecord(cmd.Context(), board, doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ Record %d: %v\n", i+1, err)
			failed++
			continue
		}
		fmt.Printf("✓ Record created: %s (status=%s)\n", created.ID, created.Status)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d records failed", failed, len(file.Records))
	}
	return nil
}

var handleCmd = &cobra.Command{
	Use:   "handle TENANT KIND ID",
	Short: "Mark a record as handled, clearing its alert",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := boardArgs(args)
		if err != nil {
			return err
		}
		resp, err := newClient(cmd).Handle(cmd.Context(), board, args[2])
		if err != nil {
			return fmt.Errorf("failed to handle record: %w", err)
		}
		printAlert(resp)
		return nil
	},
}

var transitionCmd = &cobra.Command{
	Use:   "transition TENANT KIND ID STATUS",
	Short: "Move a record to a new status",
	Long: `Move a record to a new status. Orders go new, confirmed, preparing,
ready and completed, or rejected; reservations go confirmed and completed, or
cancelled. Rejecting an order requires --reason.

Examples:
  bellhop transition acme order order-17 ready
  bellhop transition acme order order-18 rejected --reason out_of_stock --note "no more tortillas"`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := boardArgs(args)
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		note, _ := cmd.Flags().GetString("note")

		doc, err := newClient(cmd).Transition(cmd.Context(), board, args[2], args[3], reason, note)
		if err != nil {
			return fmt.Errorf("failed to transition record: %w", err)
		}
		fmt.Printf("✓ Record %s is now %s\n", doc.ID, doc.Status)
		return nil
	},
}

// tableCommand builds a TENANT KIND ID reservation command
func tableCommand(use, short string, call func(c *client.Client, cmd *cobra.Command, board types.BoardKey, id string) (*types.RecordDoc, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " TENANT KIND ID",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := boardArgs(args)
			if err != nil {
				return err
			}
			doc, err := call(newClient(cmd), cmd, board, args[2])
			if err != nil {
				return fmt.Errorf("failed to %s: %w", use, err)
			}
			occupied := "free"
			if doc.Occupied {
				occupied = "occupied"
			}
			fmt.Printf("✓ Reservation %s: table %s %s\n", doc.ID, doc.TableID, occupied)
			return nil
		},
	}
}

func init() {
	recordAddCmd.Flags().String("id", "", "Record ID (generated when empty)")
	recordAddCmd.Flags().String("status", "", "Initial status (defaults to the first status of the kind)")
	recordAddCmd.Flags().String("table", "", "Table for reservations")
	recordAddCmd.Flags().StringToString("attr", nil, "Attribute as key=value (repeatable)")

	recordImportCmd.Flags().StringP("file", "f", "", "YAML file to import (required)")
	_ = recordImportCmd.MarkFlagRequired("file")

	transitionCmd.Flags().String("reason", "", "Rejection reason for orders")
	transitionCmd.Flags().String("note", "", "Free-form note sent with a rejection")

	assignCmd := tableCommand("assign", "Assign a table to a reservation",
		func(c *client.Client, cmd *cobra.Command, board types.BoardKey, id string) (*types.RecordDoc, error) {
			table, _ := cmd.Flags().GetString("table")
			return c.AssignTable(cmd.Context(), board, id, table)
		})
	assignCmd.Flags().String("table", "", "Table ID (required)")
	_ = assignCmd.MarkFlagRequired("table")

	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordAddCmd)
	recordCmd.AddCommand(recordImportCmd)
	recordCmd.AddCommand(assignCmd)
	recordCmd.AddCommand(tableCommand("occupy", "Mark a reservation's table occupied",
		func(c *client.Client, cmd *cobra.Command, board types.BoardKey, id string) (*types.RecordDoc, error) {
			return c.Occupy(cmd.Context(), board, id)
		}))
	recordCmd.AddCommand(tableCommand("release", "Free a reservation's table",
		func(c *client.Client, cmd *cobra.Command, board types.BoardKey, id string) (*types.RecordDoc, error) {
			return c.Release(cmd.Context(), board, id)
		}))

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(handleCmd)
	rootCmd.AddCommand(transitionCmd)
}
