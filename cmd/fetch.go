package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/sportsfeed/internal/dataset"
	"github.com/sells-group/sportsfeed/internal/model"
)

var (
	fetchDomain string
	fetchParams []string
	fetchForce  bool
	fetchJSON   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch, validate and score a dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(fetchParams)
		if err != nil {
			return err
		}
		reqs, err := fetchRequests(fetchDomain, params, fetchForce)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		results, ferr := env.Service.GetMany(cmd.Context(), reqs)
		out := cmd.OutOrStdout()
		if fetchJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		} else {
			for i, res := range results {
				printResult(out, reqs[i].Domain, res)
			}
		}
		return ferr
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchDomain, "domain", "all", "domain to fetch (schedule, odds, props, injuries or all)")
	fetchCmd.Flags().StringArrayVar(&fetchParams, "param", nil, "query parameter as key=value (repeatable)")
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "bypass fresh cache entries")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(fetchCmd)
}

func fetchRequests(domain string, params map[string]string, force bool) ([]dataset.Request, error) {
	var domains []model.Domain
	if strings.EqualFold(domain, "all") {
		domains = model.AllDomains()
	} else {
		d, err := model.ParseDomain(domain)
		if err != nil {
			return nil, err
		}
		domains = []model.Domain{d}
	}
	reqs := make([]dataset.Request, len(domains))
	for i, d := range domains {
		reqs[i] = dataset.Request{Domain: d, Params: params, Options: dataset.Options{ForceRefresh: force}}
	}
	return reqs, nil
}

func printResult(w io.Writer, d model.Domain, res *dataset.Result) {
	if res == nil {
		fmt.Fprintf(w, "%-9s unavailable\n", d)
		return
	}
	q := res.Quality
	flags := ""
	if res.FromCache {
		flags += " cached"
	}
	if res.Stale {
		flags += " STALE"
	}
	fmt.Fprintf(w, "%-9s %4d records from %-9s confidence %.2f (%s) errors %d warnings %d%s\n",
		d, len(res.Data), res.Source, q.Confidence, q.TrustLevel, q.Errors, q.Warnings, flags)
}

