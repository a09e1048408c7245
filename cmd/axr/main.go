package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	quiet bool
}

// logger builds the process logger. raw is set while the terminal is in
// raw mode, where a bare "\n" does not return the carriage.
func (o *rootOptions) logger(raw bool) (*zap.Logger, error) {
	if o.quiet {
		return zap.NewNop(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	if os.Getenv("APP_ENV") == "production" {
		cfg = zap.NewProductionConfig()
	}
	if raw {
		cfg.EncoderConfig.LineEnding = "\r\n"
	}
	return cfg.Build()
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "axr",
		Short:         "Remote-rendering client host and reference streamer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "disable logging")

	cmd.AddCommand(NewClientCommand(opts))
	cmd.AddCommand(NewStreamerCommand(opts))
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
