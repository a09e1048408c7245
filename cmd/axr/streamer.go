package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/auth"
	"github.com/clickedinc/axr/internal/profile"
	"github.com/clickedinc/axr/internal/protocol"
	"github.com/clickedinc/axr/internal/streamer"
)

type StreamerOptions struct {
	Port        int
	Passkey     string
	Compression string
	Echo        bool
	NearClip    float32
	FarClip     float32
	Linkage     string
	Advertise   string
}

func NewStreamerCommand(root *rootOptions) *cobra.Command {
	opts := &StreamerOptions{}

	cmd := &cobra.Command{
		Use:   "streamer",
		Short: "Run the reference streamer",
		Long: `Run a streamer that answers the link protocol over QUIC and WebSocket on
the same port. Without --passkey a fresh one is generated. The listening port
and the passkey are printed on stdout once the streamer is ready.`,
		Example: `  axr streamer --port 56723
  axr streamer --linkage :8080 --advertise 192.168.1.20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreamer(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.Port, "port", "p", profile.DefaultPort, "port for QUIC and WebSocket (0 = random)")
	flags.StringVarP(&opts.Passkey, "passkey", "k", "", "hex passkey (default: generate)")
	flags.StringVar(&opts.Compression, "compression", protocol.CompressionZstd.String(), "user data compression: none, lz4 or zstd")
	flags.BoolVar(&opts.Echo, "echo", true, "echo user data back to the client")
	flags.Float32Var(&opts.NearClip, "near-clip", 0.1, "near clip plane sent to playing clients")
	flags.Float32Var(&opts.FarClip, "far-clip", 1000, "far clip plane sent to playing clients")
	flags.StringVar(&opts.Linkage, "linkage", "", "serve the enterprise directory on this address, e.g. :8080")
	flags.StringVar(&opts.Advertise, "advertise", "", "host handed out by the directory (default 127.0.0.1)")

	cmd.RegisterFlagCompletionFunc("compression", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"none", "lz4", "zstd"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runStreamer(cmd *cobra.Command, root *rootOptions, opts *StreamerOptions) error {
	var (
		passkey []byte
		err     error
	)
	if opts.Passkey == "" {
		passkey, err = auth.GeneratePasskey()
	} else {
		passkey, err = auth.ParsePasskey(opts.Passkey)
	}
	if err != nil {
		return err
	}
	tag, err := protocol.ParseCompressionTag(opts.Compression)
	if err != nil {
		return err
	}

	logger, err := root.logger(false)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	s := streamer.New(streamer.Config{
		Port:          opts.Port,
		Passkey:       passkey,
		NearClip:      opts.NearClip,
		FarClip:       opts.FarClip,
		EchoUserData:  opts.Echo,
		Compression:   tag,
		LinkageAddr:   opts.Linkage,
		AdvertiseHost: opts.Advertise,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Print port and passkey once the listener is ready (for scripts).
	go func() {
		select {
		case <-s.Ready:
			fmt.Fprintln(cmd.OutOrStdout(), s.Port)
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(passkey))
		case <-ctx.Done():
		}
	}()

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("streamer exited", zap.Error(err))
		return err
	}
	return nil
}
