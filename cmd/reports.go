package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/store"
)

var (
	reportsDomain string
	reportsLimit  int
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List persisted quality reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.ReportFilter{Limit: reportsLimit}
		if reportsDomain != "" {
			d, err := model.ParseDomain(reportsDomain)
			if err != nil {
				return err
			}
			filter.Domain = d
		}

		st, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("reports: store driver is none")
		}
		defer st.Close() //nolint:errcheck

		reports, err := st.ListReports(cmd.Context(), filter)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tDOMAIN\tSOURCE\tRECORDS\tERRORS\tWARNINGS\tCONFIDENCE\tTRUST\tSTALE")
		for _, r := range reports {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.2f\t%s\t%t\n",
				r.CreatedAt.Format(time.RFC3339), r.Domain, r.Source,
				r.RecordsChecked, r.Errors, r.Warnings, r.Confidence, r.TrustLevel, r.Stale,
			)
		}
		return tw.Flush()
	},
}

func init() {
	reportsCmd.Flags().StringVar(&reportsDomain, "domain", "", "filter by domain")
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 20, "maximum reports to list")
	rootCmd.AddCommand(reportsCmd)
}
