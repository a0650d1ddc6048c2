package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decision-zk/decisiond/pkg/logging"
	"github.com/decision-zk/decisiond/pkg/mirror"
	"github.com/decision-zk/decisiond/pkg/store"
)

const programName = "txops"

// openMirror connects to the relational mirror; every subcommand needs it.
func openMirror(ctx context.Context) (*mirror.Mirror, error) {
	logger, err := logging.New()
	if err != nil {
		return nil, err
	}
	m, err := mirror.OpenFromEnv(ctx, logger)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("MIRROR_DSN is required")
	}
	return m, nil
}

func listCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored transactions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMirror(cmd.Context())
			if err != nil {
				return err
			}
			txs, err := m.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, tx := range txs {
				fmt.Printf("%s\t%-12s\t%-16s\t%s\n",
					tx.ID, tx.Status, tx.Method, tx.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to print")
	return cmd
}

func promoteCommand() *cobra.Command {
	var fail bool
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Force every pending transaction terminal (recovery tool)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMirror(cmd.Context())
			if err != nil {
				return err
			}
			status := store.TxSuccess
			if fail {
				status = store.TxFailed
			}
			n, err := m.PromoteAll(cmd.Context(), status)
			if err != nil {
				return err
			}
			fmt.Printf("promoted %d transactions to %s\n", n, status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fail, "fail", false, "mark pending transactions Failed instead of Success")
	return cmd
}

func purgeCommand() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every mirrored transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to purge without --yes")
			}
			m, err := openMirror(cmd.Context())
			if err != nil {
				return err
			}
			n, err := m.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("purged %d transactions\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the purge")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Maintenance operations on the transaction mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		listCommand(),
		promoteCommand(),
		purgeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
