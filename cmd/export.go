package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sportsfeed/internal/dataset"
	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/report"
)

var (
	exportDomain string
	exportOut    string
	exportParams []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Fetch a dataset and write it with its quality report to XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := model.ParseDomain(exportDomain)
		if err != nil {
			return err
		}
		params, err := parseParams(exportParams)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Get(cmd.Context(), d, params, dataset.Options{})
		if err != nil {
			return err
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", exportOut)
		}
		if err := report.WriteXLSX(f, res); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "export: close %s", exportOut)
		}

		zap.L().Info("export: written",
			zap.String("path", exportOut),
			zap.String("domain", string(d)),
			zap.Int("records", len(res.Data)),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDomain, "domain", "", "domain to export")
	exportCmd.Flags().StringVar(&exportOut, "out", "dataset.xlsx", "output file")
	exportCmd.Flags().StringArrayVar(&exportParams, "param", nil, "query parameter as key=value (repeatable)")
	_ = exportCmd.MarkFlagRequired("domain")
	rootCmd.AddCommand(exportCmd)
}
