package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/sportsfeed/internal/quota"
	"github.com/sells-group/sportsfeed/internal/source"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show quota usage for metered sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		chainCfg, err := source.LoadChainConfig(cfg.Sources.ChainPath)
		if err != nil {
			return err
		}
		chains, err := source.BuildChains(chainCfg, buildRegistry(cfg.Sources, nil))
		if err != nil {
			return err
		}
		limits := make(map[string]quota.Limits)
		for _, name := range source.QuotaSources(chains) {
			l := cfg.Quota.LimitsFor(name)
			limits[name] = quota.Limits{Daily: l.Daily, Monthly: l.Monthly}
		}
		ledger := quota.NewLedger(quota.NewFileStore(cfg.Quota.StatePath), limits,
			quota.WithWarnRatio(cfg.Quota.WarnRatio))

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tDAILY\tMONTHLY\tLEVEL\tCAN CONSUME")
		for _, st := range ledger.Snapshot() {
			fmt.Fprintf(tw, "%s\t%d/%d (%.0f%%)\t%d/%d (%.0f%%)\t%s\t%t\n",
				st.Source,
				st.Daily.Used, st.Daily.Limit, st.DailyPercent,
				st.Monthly.Used, st.Monthly.Limit, st.MonthlyPercent,
				st.Level, st.CanConsume,
			)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}
