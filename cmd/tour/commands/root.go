// Package commands implements the tour CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app carries state shared by every subcommand.
type app struct {
	version string
	debug   bool
	logger  *zap.Logger
}

// NewRootCommand builds the tour command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{version: version, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "tour",
		Short: "Serve interactive library tours written in markdown",
		Long: `tour serves markdown pages whose runner blocks become editable code
snippets. Each snippet runs in a sandboxed iframe that prints console
output below the editor.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = newLogger(cmd, a.debug)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newServeCommand(a),
		newBlocksCommand(a),
		newValidateCommand(),
		newSandboxCommand(a),
		newVersionCommand(a),
	)
	return root
}

// newLogger builds a production logger that writes to the command's error
// stream.
func newLogger(cmd *cobra.Command, debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())),
		cfg.Level,
	)
	return zap.New(core, zap.AddCaller())
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tour version %s\n", a.version)
		},
	}
}
