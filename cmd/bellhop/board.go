package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/bellhop/pkg/api"
	"github.com/cuemby/bellhop/pkg/client"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/spf13/cobra"
)

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return client.NewClient(addr)
}

// boardArgs parses the TENANT KIND positional arguments
func boardArgs(args []string) (types.BoardKey, error) {
	kind, err := types.ParseKind(args[1])
	if err != nil {
		return types.BoardKey{}, err
	}
	return types.BoardKey{TenantID: args[0], Kind: kind}, nil
}

func printAlert(resp *api.AlertResponse) {
	fmt.Printf("Board: %s/%s\n", resp.Tenant, resp.Kind)
	fmt.Printf("  Alert: %s\n", resp.State)
	if len(resp.Active) > 0 {
		fmt.Printf("  Unhandled: %s\n", strings.Join(resp.Active, ", "))
	}
}

// boardCommand builds a TENANT KIND command that prints the returned alert state
func boardCommand(use, short string, call func(*client.Client, context.Context, types.BoardKey) (*api.AlertResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " TENANT KIND",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := boardArgs(args)
			if err != nil {
				return err
			}
			resp, err := call(newClient(cmd), cmd.Context(), board)
			if err != nil {
				return fmt.Errorf("failed to %s board: %w", use, err)
			}
			printAlert(resp)
			return nil
		},
	}
}

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List open boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		boards, err := newClient(cmd).Boards(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list boards: %w", err)
		}
		if len(boards) == 0 {
			fmt.Println("No boards open")
			return nil
		}
		fmt.Printf("%-30s %s\n", "TENANT", "KIND")
		for _, b := range boards {
			fmt.Printf("%-30s %s\n", b.Tenant, b.Kind)
		}
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close TENANT KIND",
	Short: "Close a board",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := boardArgs(args)
		if err != nil {
			return err
		}
		if err := newClient(cmd).Close(cmd.Context(), board); err != nil {
			return fmt.Errorf("failed to close board: %w", err)
		}
		fmt.Printf("✓ Board %s closed\n", board)
		return nil
	},
}

var audioCmd = &cobra.Command{
	Use:   "activate-audio TENANT KIND",
	Short: "Unlock the arrival chime on a device",
	Long: `Unlock the arrival chime on a device. Until a device is activated the
board alerts silently; activation lasts until the board restarts.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := boardArgs(args)
		if err != nil {
			return err
		}
		device, _ := cmd.Flags().GetString("device")
		resp, err := newClient(cmd).ActivateAudio(cmd.Context(), board, device)
		if err != nil {
			return fmt.Errorf("failed to activate audio: %w", err)
		}
		fmt.Printf("✓ Audio activated on %s\n", resp.Device)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health TENANT KIND",
	Short: "Check a board over the gRPC health service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, err := boardArgs(args)
		if err != nil {
			return err
		}
		grpcAddr, _ := cmd.Flags().GetString("grpc-addr")

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		status, err := client.CheckBoard(ctx, grpcAddr, board)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Printf("%s: %s\n", board, status)
		return nil
	},
}

func init() {
	audioCmd.Flags().String("device", "", "Device to activate (defaults to the node's device)")
	healthCmd.Flags().String("grpc-addr", "127.0.0.1:9090", "Address of the gRPC health service")

	rootCmd.AddCommand(boardsCmd)
	rootCmd.AddCommand(boardCommand("open", "Open a board", (*client.Client).Open))
	rootCmd.AddCommand(boardCommand("restart", "Reopen a board with fresh state", (*client.Client).Restart))
	rootCmd.AddCommand(boardCommand("alerts", "Show a board's alert state", (*client.Client).Alert))
	rootCmd.AddCommand(boardCommand("dismiss", "Silence a board until the next arrival", (*client.Client).Dismiss))
	rootCmd.AddCommand(boardCommand("refresh", "Poll a board's store now", (*client.Client).Refresh))
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(audioCmd)
	rootCmd.AddCommand(healthCmd)
}
