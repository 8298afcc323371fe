package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sportsfeed/internal/store"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete persisted snapshots older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return eris.New("prune: --older-than must be positive")
		}
		st, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("prune: store driver is none")
		}
		defer st.Close() //nolint:errcheck

		n, err := st.PruneSnapshots(cmd.Context(), time.Now().Add(-pruneOlderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d snapshots\n", n)
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 7*24*time.Hour, "age beyond which snapshots are deleted")
	rootCmd.AddCommand(pruneCmd)
}
