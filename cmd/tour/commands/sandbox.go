package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-synchronous/tour/internal/config"
	"github.com/a-synchronous/tour/internal/sandbox"
	"github.com/a-synchronous/tour/internal/security"
)

type sandboxOptions struct {
	configPath string
	html       bool
	library    string
	encoding   string
}

func newSandboxCommand(a *app) *cobra.Command {
	var opts sandboxOptions

	cmd := &cobra.Command{
		Use:   "sandbox <file|->",
		Short: "Print the iframe src that runs a snippet",
		Long: `sandbox wraps a snippet the way the tour's run button does and prints
the resulting data URI. Use - to read the snippet from stdin and --html to
print the document instead of the URI.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSnippet(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			cfg := config.DefaultConfig()
			if opts.configPath != "" {
				if cfg, err = config.Load(opts.configPath); err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			}

			tmpl := cfg.Sandbox.Template()
			if cmd.Flags().Changed("library") {
				if opts.library != "" {
					if err := security.ValidateLibraryURL(opts.library); err != nil {
						return fmt.Errorf("invalid library: %w", err)
					}
				}
				tmpl.LibraryURL = opts.library
			}
			if cmd.Flags().Changed("encoding") {
				tmpl.Encoding = sandbox.Encoding(opts.encoding)
			}
			if err := tmpl.Validate(); err != nil {
				return err
			}

			a.logger.Debug("generating sandbox",
				zap.String("library", tmpl.LibraryURL),
				zap.Int("bytes", len(code)))

			var result string
			if opts.html {
				result, err = tmpl.HTML(code)
			} else {
				result, err = tmpl.IFrameSrc(code)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file for the sandbox settings")
	flags.BoolVar(&opts.html, "html", false, "Print the sandbox document instead of the data URI")
	flags.StringVar(&opts.library, "library", "", `Library URL to import ("" runs without a library)`)
	flags.StringVar(&opts.encoding, "encoding", "", "Data URI encoding: uri or base64")
	return cmd
}

func readSnippet(stdin io.Reader, name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read snippet: %w", err)
	}
	return string(data), nil
}
