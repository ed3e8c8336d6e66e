package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/a-synchronous/tour"
	"github.com/a-synchronous/tour/internal/config"
	"github.com/a-synchronous/tour/internal/security"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [directory]",
		Short: "Check tours and tour.yaml for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), dirArg(args))
		},
	}
}

func runValidate(out io.Writer, dir string) error {
	files, err := findTours(dir)
	if err != nil {
		return err
	}

	failed := 0
	if _, err := config.LoadFromDir(dir); err != nil {
		fmt.Fprintf(out, "❌ %s: %v\n", config.FileName, err)
		failed++
	}

	for _, rel := range files {
		page, err := tour.ParseFile(filepath.Join(dir, rel))
		if err != nil {
			failed++
			var pe *tour.ParseError
			if errors.As(err, &pe) {
				fmt.Fprintln(out, pe.Format())
			} else {
				fmt.Fprintf(out, "❌ %s: %v\n", rel, err)
			}
			continue
		}
		if page.Library != nil && *page.Library != "" {
			if err := security.ValidateLibraryURL(*page.Library); err != nil {
				failed++
				fmt.Fprintf(out, "❌ %s: library: %v\n", rel, err)
				continue
			}
		}
		fmt.Fprintf(out, "✅ %s (%d runners)\n", rel, len(page.Runners))
	}

	if failed > 0 {
		return fmt.Errorf("validation failed: %d problem(s) found", failed)
	}
	fmt.Fprintf(out, "\nAll %d file(s) valid\n", len(files))
	return nil
}
