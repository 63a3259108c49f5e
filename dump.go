package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/igor-prusov/dts-lsp/internal/cache"
	"github.com/igor-prusov/dts-lsp/internal/config"
	"github.com/igor-prusov/dts-lsp/internal/depot"
	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/resolver"
	"github.com/igor-prusov/dts-lsp/internal/workspace"
)

var (
	flagDumpDB     string
	flagDumpPrefix string
	flagDumpFind   string
)

var dumpCmd = &cobra.Command{
	Use:   "dump [root]",
	Short: "Index a tree once and print a summary",
	Long:  "Scans every devicetree file below root (default: current directory), prints index statistics and optionally exports the index to SQLite.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&flagDumpDB, "db", "", "export the index to this SQLite file")
	dumpCmd.Flags().StringVar(&flagDumpPrefix, "includes-prefix", "", "include search directory below root (default from config)")
	dumpCmd.Flags().StringVar(&flagDumpFind, "find", "", "look up a label in the exported database (requires --db)")
}

func runDump(cmd *cobra.Command, args []string) error {
	if flagDumpFind != "" && flagDumpDB == "" {
		return errors.New("--find requires --db")
	}
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWorkspace(config.Default(), root)
	if err != nil {
		return err
	}
	if flagDumpPrefix != "" {
		cfg.IncludesPrefix = flagDumpPrefix
	}

	logging.Configure(flagVerbose, flagLogfile)
	return dump(cmd.Context(), cmd.OutOrStdout(), root, cfg, flagDumpDB, flagDumpFind, logging.New(logging.Console, "dump"))
}

func dump(ctx context.Context, out io.Writer, root string, cfg config.Config, db, find string, log logging.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ws := workspace.New(log)
	defer ws.Close()
	ws.Files.SetRoot(resolver.PathToURI(root))
	ws.Files.SetIncludesPrefix(cfg.IncludesPrefix)

	if err := ws.FullScan(ctx, cfg.Ignore); err != nil {
		return err
	}

	fmt.Fprintf(out, "root:       %s\n", root)
	fmt.Fprintf(out, "files:      %d (%d loaded)\n", ws.Files.Size(), ws.Files.WithText())
	fmt.Fprintf(out, "labels:     %d\n", ws.Labels.Size())
	fmt.Fprintf(out, "references: %d\n", ws.References.Size())
	fmt.Fprintf(out, "defines:    %d\n", ws.Defines.Size())

	if db == "" {
		return nil
	}
	fc, err := cache.NewFilecache(db)
	if err != nil {
		return err
	}
	defer fc.Close()
	if err := fc.Export(ws.Snapshot()); err != nil {
		return fmt.Errorf("failed to export index: %w", err)
	}
	stats, err := fc.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported:   %s (%d files, %d includes, %d labels, %d references, %d defines)\n",
		db, stats.Files, stats.Includes, stats.Labels, stats.References, stats.Defines)

	if find == "" {
		return nil
	}
	return lookup(out, fc, find)
}

// lookup prints where label is defined and referenced, and which files
// include each defining file.
func lookup(out io.Writer, fc *cache.Filecache, label string) error {
	labels, err := fc.Labels(label)
	if err != nil {
		return err
	}
	refs, err := fc.References(label)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s:\n", label)
	for _, l := range labels {
		fmt.Fprintf(out, "  defined    %s\n", position(l))
		sources, err := fc.IncludedBy(l.URI)
		if err != nil {
			return err
		}
		for _, src := range sources {
			fmt.Fprintf(out, "    included by %s\n", src)
		}
	}
	for _, r := range refs {
		fmt.Fprintf(out, "  referenced %s\n", position(r))
	}
	return nil
}

func position(s depot.Symbol) string {
	return fmt.Sprintf("%s:%d:%d", s.URI, s.Range.Start.Line+1, s.Range.Start.Character+1)
}

