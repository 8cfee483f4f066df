package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"acervo/preservation-api/internal/archive"
	"acervo/preservation-api/internal/config"

	"github.com/spf13/cobra"
)

// archiveAPI is the subset of the archive client the CLI drives.
type archiveAPI interface {
	UnapprovedTransfers(ctx context.Context) (*archive.TransferListing, error)
	CompletedTransfers(ctx context.Context) (*archive.TransferListing, error)
	TransferStatus(ctx context.Context, transferID string) (*archive.TransferStatus, error)
	CancelTransfer(ctx context.Context, transferID string) (*archive.Ack, error)
	ProcessIngest(ctx context.Context, sipID, processingConfig string) (*archive.Ack, error)
}

type clientFactory func(configDir string) (archiveAPI, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(newArchiveClient)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "archivectl: %v\n", err)
		os.Exit(1)
	}
}

func newArchiveClient(configDir string) (archiveAPI, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return archive.New(cfg.Archive, logger), nil
}

func newRootCommand(factory clientFactory) *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "archivectl",
		Short: "Inspect and operate transfers in the preservation archive",
		Long: `archivectl talks to the archive configured for the preservation API
(config.yaml or ARCHIVE_* environment variables) and prints responses as JSON.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", ".", "Directory holding config.yaml")

	client := func() (archiveAPI, error) { return factory(configDir) }
	cmd.AddCommand(
		newTransfersCmd(client),
		newTransferCmd(client),
		newIngestCmd(client),
	)
	return cmd
}

func newTransfersCmd(client func() (archiveAPI, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "List transfers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "unapproved",
			Short: "Transfers waiting for approval",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				listing, err := c.UnapprovedTransfers(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), listing)
			},
		},
		&cobra.Command{
			Use:   "completed",
			Short: "Transfers that finished processing",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				listing, err := c.CompletedTransfers(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), listing)
			},
		},
	)
	return cmd
}

func newTransferCmd(client func() (archiveAPI, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Act on a single transfer",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status <transfer-id>",
			Short: "Show the archive's status of a transfer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				status, err := c.TransferStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			},
		},
		&cobra.Command{
			Use:   "cancel <transfer-id>",
			Short: "Delete a transfer that has not been approved yet",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				ack, err := c.CancelTransfer(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ack)
			},
		},
	)
	return cmd
}

func newIngestCmd(client func() (archiveAPI, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Drive ingest of SIPs",
	}

	var processingConfig string
	process := &cobra.Command{
		Use:   "process <sip-id>",
		Short: "Continue ingest of a SIP with a processing configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			ack, err := c.ProcessIngest(cmd.Context(), args[0], processingConfig)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ack)
		},
	}
	process.Flags().StringVar(&processingConfig, "processing-config", "", "Processing configuration name (archive.processing_config when empty)")

	cmd.AddCommand(process)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
