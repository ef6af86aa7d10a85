package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ictyield/backend/internal/aggregate"
	"github.com/ictyield/backend/internal/export"
	"github.com/ictyield/backend/internal/models"
)

func newYieldCmd(opts *globalOptions) *cobra.Command {
	var hourly bool
	cmd := &cobra.Command{
		Use:   "yield <file|dir|glob>...",
		Short: "Print first-pass, final and total yield",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, summary, err := loadSession(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "product %s: %d records from %d files (%d rejected)\n\n",
				summary.Product, summary.Accepted, summary.Files, summary.Rejected)

			y := m.Yields()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SCOPE\tFIRST PASS\tFINAL\tTOTAL")
			for _, row := range []struct {
				name string
				t    aggregate.YieldTuple
			}{
				{"panel", y.Panel},
				{"panel+golden", y.PanelWithGolden},
				{"board", y.Board},
				{"board+golden", y.BoardWithGolden},
			} {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.name, yieldCell(row.t.FirstPass), yieldCell(row.t.Final), yieldCell(row.t.Total))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if hourly {
				fmt.Fprintln(out)
				tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "HOUR\tPANEL\tBOARD")
				for _, b := range m.HourlyStats() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", models.PackedTime(b.Hour*10000).Time().Format("2006-01-02 15h"), yieldCell(b.Panel), yieldCell(b.Board))
				}
				return tw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hourly, "hourly", false, "also print hourly buckets")
	return cmd
}

func yieldCell(y aggregate.Yield) string {
	if y.Total() == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%% (%d/%d)", y.Percent(), y.Pass, y.Total())
}

func newFailuresCmd(opts *globalOptions) *cobra.Command {
	var scopeName string
	var limit int
	cmd := &cobra.Command{
		Use:   "failures <file|dir|glob>...",
		Short: "List failing tests by count",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := aggregate.ParseFailureScope(scopeName)
			if err != nil {
				return err
			}
			m, _, err := loadSession(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			fails := m.FailureList(scope)
			if limit > 0 && len(fails) > limit {
				fails = fails[:limit]
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TEST\tFAILS\tPOSITIONS")
			for _, f := range fails {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Count, positions(f.ByPosition))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "all", "first, latest or all attempts")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n tests")
	return cmd
}

func positions(byPos map[int]int) string {
	if len(byPos) == 0 {
		return "-"
	}
	last := 0
	for p := range byPos {
		if p > last {
			last = p
		}
	}
	var parts []string
	for p := 1; p <= last; p++ {
		if n, ok := byPos[p]; ok {
			parts = append(parts, fmt.Sprintf("#%d:%d", p, n))
		}
	}
	return strings.Join(parts, " ")
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var onlyLimited bool
	cmd := &cobra.Command{
		Use:   "stats <file|dir|glob>...",
		Short: "Print per-test statistics and Cpk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := loadSession(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tTEST\tKIND\tN\tFAILS\tMIN\tMAX\tMEAN\tSTDDEV\tCPK")
			for _, st := range m.AllStatistics() {
				if onlyLimited && st.Limit.Type == models.LimitNone {
					continue
				}
				cpk := "-"
				if st.HasCpk {
					cpk = fmt.Sprintf("%.2f", st.Cpk)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%g\t%g\t%g\t%.4g\t%s\n",
					st.Index, st.Name, st.Kind, st.Count, st.Fails, st.Min, st.Max, st.Mean, st.StdDev, cpk)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&onlyLimited, "limited", false, "only tests with limits")
	return cmd
}

func newFirmwareCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "firmware <file|dir|glob>...",
		Short: "List boards running firmware older than the catalog requires",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.catalogPath == "" {
				return fmt.Errorf("--catalog is required")
			}
			m, _, err := loadSession(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			issues, err := m.OutdatedFirmware()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "all boards up to date")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "DMC\tPANEL\tVERSION\tREQUIRED")
			for _, is := range issues {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", is.DMC, is.MainDMC, is.Version, is.Required)
			}
			return tw.Flush()
		},
	}
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		output       string
		format       string
		testsAsRows  bool
		failuresOnly bool
		finalOnly    bool
		failedTests  bool
		tests        []string
	)
	cmd := &cobra.Command{
		Use:   "export <file|dir|glob>...",
		Short: "Write the result matrix as xlsx or msgpack",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := aggregate.ExportSettings{FailuresOnly: failuresOnly, FinalOnly: finalOnly}
			if testsAsRows {
				settings.Orientation = aggregate.TestsAsRows
			}
			switch {
			case len(tests) > 0:
				settings.Selection = aggregate.SelectListed
				settings.Tests = tests
			case failedTests:
				settings.Selection = aggregate.SelectFailed
			}

			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
			}
			if format != "xlsx" && format != "msgpack" {
				return fmt.Errorf("unknown format %q (xlsx or msgpack)", format)
			}

			m, _, err := loadSession(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			matrix, err := m.ExportMatrix(settings)
			if err != nil {
				return err
			}
			if err := writeMatrix(output, format, matrix); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d x %d matrix to %s\n", len(matrix.Rows), len(matrix.Columns), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "results.xlsx", "output file")
	cmd.Flags().StringVar(&format, "format", "", "xlsx or msgpack (default from the output extension)")
	cmd.Flags().BoolVar(&testsAsRows, "tests-as-rows", false, "one row per test instead of per attempt")
	cmd.Flags().BoolVar(&failuresOnly, "failures-only", false, "only failing attempts")
	cmd.Flags().BoolVar(&finalOnly, "final", false, "only the latest attempt of each board")
	cmd.Flags().BoolVar(&failedTests, "failed-tests", false, "only tests that failed in an exported attempt")
	cmd.Flags().StringSliceVar(&tests, "test", nil, "export only the named tests")
	return cmd
}

func writeMatrix(path, format string, m *aggregate.Matrix) error {
	if format == "xlsx" {
		return export.WriteXLSX(path, m)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	var w io.Writer = f
	if err := export.EncodeMsgpack(w, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
