package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ictyield/backend/internal/catalog"
	"github.com/ictyield/backend/internal/logging"
	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/parser"
	"github.com/ictyield/backend/internal/session"
)

type globalOptions struct {
	catalogPath string
	parallel    int
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "yieldctl",
		Short:         "Offline ICT/FCT yield analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, true)
		},
	}
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "", "product catalog YAML")
	root.PersistentFlags().IntVarP(&opts.parallel, "parallel", "j", runtime.NumCPU(), "files parsed at once")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newYieldCmd(opts),
		newFailuresCmd(opts),
		newStatsCmd(opts),
		newFirmwareCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// expandInputs resolves globs and walks directories for files the registry can route.
func expandInputs(args []string) ([]string, error) {
	reg := parser.GetGlobalRegistry()
	seen := make(map[string]struct{})
	var files []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no such file: %s", pattern)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				if _, err := reg.FindParser(path); err == nil {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadSession parses every input into a fresh manager.
func loadSession(ctx context.Context, opts *globalOptions, args []string) (*session.Manager, *models.LoadSummary, error) {
	files, err := expandInputs(args)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no tester files found")
	}

	var source catalog.Source
	if opts.catalogPath != "" {
		cat, err := catalog.LoadFile(opts.catalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		source = cat
	}

	m := session.NewManager(source, nil, session.WithParallelism(opts.parallel))
	summary, err := m.LoadFiles(ctx, files)
	if err != nil {
		return nil, nil, err
	}
	for _, fe := range summary.Errors {
		ev := log.Warn()
		if fe.Fatal {
			ev = log.Error()
		}
		ev.Str("file", fe.Path).Str("reason", fe.Error.Error()).Msg("parse problem")
	}
	if summary.Accepted == 0 {
		return nil, summary, fmt.Errorf("no records accepted from %d files", len(files))
	}
	return m, summary, nil
}
