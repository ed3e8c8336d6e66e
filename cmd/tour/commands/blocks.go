package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-synchronous/tour"
	"github.com/a-synchronous/tour/internal/server"
)

func newBlocksCommand(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "blocks [directory]",
		Short: "List the runner blocks of every tour",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBlocks(cmd.OutOrStdout(), a.logger, dirArg(args), verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show code and sandbox paths")
	return cmd
}

type pageBlocks struct {
	file string
	page *tour.Page
}

func runBlocks(out io.Writer, logger *zap.Logger, dir string, verbose bool) error {
	files, err := findTours(dir)
	if err != nil {
		return err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	fmt.Fprintf(out, "🔍 Inspecting blocks in: %s\n\n", absDir)

	var (
		pages  []pageBlocks
		total  int
		byMode = make(map[string]int)
	)
	for _, rel := range files {
		page, err := tour.ParseFile(filepath.Join(dir, rel))
		if err != nil {
			// Keep going; validate reports the details.
			logger.Debug("parse failed", zap.String("file", rel), zap.Error(err))
			fmt.Fprintf(out, "⚠️  %s: failed to parse, run 'tour validate' for details\n\n", rel)
			continue
		}
		if len(page.Runners) == 0 {
			continue
		}
		pages = append(pages, pageBlocks{file: rel, page: page})
		total += len(page.Runners)
		for _, r := range page.Runners {
			byMode[r.Mode]++
		}
	}

	if len(pages) == 0 {
		fmt.Fprintln(out, "No runner blocks found.")
		return nil
	}

	for _, pb := range pages {
		if verbose {
			printVerboseBlocks(out, pb)
		} else {
			printBasicBlocks(out, pb)
		}
	}

	modes := make([]string, 0, len(byMode))
	for m := range byMode {
		modes = append(modes, m)
	}
	sort.Strings(modes)

	fmt.Fprint(out, strings.Repeat("─", 60)+"\n")
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Pages: %d\n", len(pages))
	fmt.Fprintf(out, "  Total runners: %d\n", total)
	for _, m := range modes {
		fmt.Fprintf(out, "  %s: %d\n", m, byMode[m])
	}
	fmt.Fprintln(out)
	return nil
}

func codeLines(code string) int {
	if code == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(code, "\n"), "\n") + 1
}

func printBasicBlocks(out io.Writer, pb pageBlocks) {
	fmt.Fprintf(out, "%s:\n", pb.file)
	for _, r := range pb.page.Runners {
		fmt.Fprintf(out, "  Line %d: %s (%s)\n", r.Line, r.ID, r.Mode)
		fmt.Fprintf(out, "           Code: %d lines\n", codeLines(r.Code))
	}
	fmt.Fprintln(out)
}

func printVerboseBlocks(out io.Writer, pb pageBlocks) {
	fmt.Fprintf(out, "%s:\n\n", pb.file)
	pageID := filepath.ToSlash(strings.TrimSuffix(pb.file, ".md"))
	for _, r := range pb.page.Runners {
		fmt.Fprintf(out, "Runner: %s\n", r.ID)
		fmt.Fprintf(out, "  Mode: %s\n", r.Mode)
		fmt.Fprintf(out, "  Location: %s:%d\n", pb.file, r.Line)
		fmt.Fprintf(out, "  Sandbox: %s/%s/%s\n", server.SandboxPath, pageID, r.ID)
		fmt.Fprintln(out, "  Code:")
		for _, line := range strings.Split(strings.TrimSuffix(r.Code, "\n"), "\n") {
			fmt.Fprintf(out, "    │ %s\n", line)
		}
		fmt.Fprintln(out)
	}
}
