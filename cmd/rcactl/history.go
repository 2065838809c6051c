package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored attribution reports",
		Long:  "history reads the sqlite database the attributor writes with --history.",
	}
	cmd.AddCommand(
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistoryStatsCmd(a),
		newHistoryDeleteCmd(a),
	)
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withHistory(func(h *store.History) error {
				summaries, err := h.ListReports(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Fprintln(a.stdout, "No reports stored.")
					return nil
				}
				fmt.Fprintf(a.stdout, "%-36s %-20s %-11s %-12s %-20s %s\n", "ID", "GENERATED", "STRATEGY", "TARGET", "ROOT CAUSE", "CONFIDENCE")
				for _, s := range summaries {
					cause := s.RootCause
					if s.RootCauseMetric != "" {
						cause += "/" + s.RootCauseMetric
					}
					if cause == "" {
						cause = "-"
					}
					fmt.Fprintf(a.stdout, "%-36s %-20s %-11s %-12s %-20s %.2f\n",
						s.ID, s.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"), s.Strategy, s.TargetNode, cause, s.Confidence)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reports")
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Print one report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(func(h *store.History) error {
				report, err := h.GetReport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, string(b))
				return nil
			})
		},
	}
}

func newHistoryStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stored reports per root cause",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withHistory(func(h *store.History) error {
				counts, err := h.RootCauseCounts(cmd.Context())
				if err != nil {
					return err
				}
				nodes := make([]string, 0, len(counts))
				for node := range counts {
					nodes = append(nodes, node)
				}
				sort.Slice(nodes, func(i, j int) bool {
					if counts[nodes[i]] != counts[nodes[j]] {
						return counts[nodes[i]] > counts[nodes[j]]
					}
					return nodes[i] < nodes[j]
				})
				for _, node := range nodes {
					fmt.Fprintf(a.stdout, "%-20s %d\n", node, counts[node])
				}
				return nil
			})
		},
	}
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <report-id>",
		Short: "Delete one report and its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(func(h *store.History) error {
				if err := h.DeleteReport(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) withHistory(fn func(h *store.History) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	path := strings.TrimSpace(a.historyPath(cfg))
	if path == "" {
		return rcaerr.Configf("no history database; pass --history or set RCA_HISTORY")
	}
	h, err := store.Open(path)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}
