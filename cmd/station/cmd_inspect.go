package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cloudpico-station/internal/app"
	"cloudpico-station/internal/cache"
	"cloudpico-station/internal/storeforward"
)

var asJSON bool

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "List buffered readings, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			recs, err := a.Backlog(ctx)
			if err != nil {
				return err
			}
			return printBacklog(cmd.OutOrStdout(), recs, asJSON)
		})
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show the reference cache (NTP, SERVER, QNH)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			entries, err := a.CacheEntries()
			if err != nil {
				return err
			}
			return printCache(cmd.OutOrStdout(), entries, asJSON)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{backlogCmd, cacheCmd} {
		c.Flags().BoolVar(&asJSON, "json", false, "print JSON")
		rootCmd.AddCommand(c)
	}
}

func printBacklog(w io.Writer, recs []storeforward.Record, raw bool) error {
	if raw {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if recs == nil {
			recs = []storeforward.Record{}
		}
		return enc.Encode(recs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tTEMP\tHUM\tPRESS\tIMAGE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%v\n",
			r.ID, r.Timestamp, cell(r.Temperature), cell(r.Humidity), cell(r.Pressure), r.HasImage)
	}
	fmt.Fprintf(tw, "%d buffered\n", len(recs))
	return tw.Flush()
}

func printCache(w io.Writer, entries map[string]cache.Entry, raw bool) error {
	if raw {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTIMESTAMP\tVALUE")
	for _, k := range keys {
		e := entries[k]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k, e.Timestamp, cell(e.Value))
	}
	return tw.Flush()
}

func cell(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
