package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/clickedinc/axr/internal/client"
	"github.com/clickedinc/axr/internal/console"
	"github.com/clickedinc/axr/internal/engine"
	"github.com/clickedinc/axr/internal/link"
	"github.com/clickedinc/axr/internal/native"
	"github.com/clickedinc/axr/internal/profile"
	"github.com/clickedinc/axr/internal/render"
)

const stdinBufSize = 64

type ClientOptions struct {
	ConfigPath string
	NoConsole  bool
	Stats      bool
	StatsDir   string
}

func NewClientCommand(root *rootOptions) *cobra.Command {
	opts := &ClientOptions{}
	prof := profile.Default()

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run a headless client host",
		Long: `Run a client host: a frame loop with one camera that links to a streamer,
plays while focused and relinks when the link drops. Profile fields come from
--config (YAML or JSON with comments) and are overridden by flags.

` + console.Help,
		Example: `  axr client --address 192.168.1.20:56723 --passkey <hex>
  axr client --config client.yaml --transport websocket`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := prof
			if opts.ConfigPath != "" {
				loaded, err := profile.Load(opts.ConfigPath)
				if err != nil {
					return err
				}
				if err := loaded.Overlay(cmd.Flags()); err != nil {
					return err
				}
				p = loaded
			}
			return runClient(root, opts, p)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "profile file (.yaml, .yml, .json, .jsonc)")
	flags.BoolVar(&opts.NoConsole, "no-console", false, "do not read key commands from the terminal")
	flags.BoolVar(&opts.Stats, "stats", false, "log QUIC link statistics")
	flags.StringVar(&opts.StatsDir, "stats-dir", "", "also write a JSON link summary into this directory")
	prof.BindFlags(flags)

	cmd.RegisterFlagCompletionFunc("transport", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"quic", "websocket"}, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.RegisterFlagCompletionFunc("platform", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"direct", "enterprise"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runClient(root *rootOptions, opts *ClientOptions, p *profile.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Passkey == "" {
		return errors.New("a passkey is required (--passkey or the profile's passkey)")
	}
	passkey, err := p.PasskeyBytes()
	if err != nil {
		return err
	}
	mode, _ := p.DialMode()
	tag, _ := p.CompressionTag()

	fd := int(os.Stdin.Fd())
	interactive := !opts.NoConsole && term.IsTerminal(fd)

	logger, err := root.logger(interactive)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	remote := native.NewRemote(native.Config{
		Transport:       mode,
		Passkey:         passkey,
		Setup:           p.SetupProfile(),
		Compression:     tag,
		RenderOnTexture: p.SeparateTarget(),
		Profile:         opts.Stats,
		ProfileDir:      opts.StatsDir,
		Logger:          logger,
	})

	c, err := client.New(client.Config{
		Profile: p,
		Session: remote,
		Hooks: client.Hooks{
			Linked: func() { logger.Info("linked") },
			UserData: func(data []byte) {
				logger.Debug("user data", zap.Int("bytes", len(data)))
			},
		},
		Logger: logger,
	})
	if err != nil {
		remote.Close()
		return err
	}
	defer c.Close()

	loop, err := engine.New(engine.Config{
		FrameRate:    p.Video.FrameRate,
		RenderThread: remote.RenderThread(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	host := engine.NewCamera("hmd", p.Stereoscopy)
	cam := c.NewCamera(client.CameraConfig{
		Name:         "hmd",
		Camera:       host,
		RecenterPose: func() { host.SetPose(render.Identity()) },
	})
	defer cam.Close()
	host.OnPreRender(cam.OnPreRender)
	host.OnPostRender(cam.OnPostRender)
	loop.AddCamera(host)
	loop.OnEndOfFrame(ctx, cam.OnEndOfFrame)

	loop.OnUpdate(c.Tick)
	loop.OnUpdate(stateReporter(c, remote, logger))

	if interactive {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)
		fmt.Fprint(os.Stderr, console.Help+"\r\n")

		cmds := make(chan console.Command, 16)
		go readConsole(os.Stdin, cmds)
		loop.OnUpdate(func(time.Duration) {
			for {
				select {
				case k := <-cmds:
					applyCommand(c, k, quit, logger)
				default:
					return
				}
			}
		})
	}

	c.StartLinking(-1)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := remote.Stats()
	logger.Info("client stopped",
		zap.Stringer("state", c.State()),
		zap.Uint32("left", stats.Left),
		zap.Uint32("right", stats.Right),
		zap.Uint32("mono", stats.Mono),
		zap.Uint32("end_frames", stats.EndFrames),
	)
	if err := c.Err(); err != nil {
		return err
	}
	return nil
}

// stateReporter logs each link state change with the render counters.
func stateReporter(c *client.Client, remote *native.Remote, logger *zap.Logger) func(time.Duration) {
	last := c.State()
	return func(time.Duration) {
		state := c.State()
		if state == last {
			return
		}
		stats := remote.Stats()
		logger.Info("link state",
			zap.Stringer("from", last),
			zap.Stringer("to", state),
			zap.String("address", c.LastLinkageAddress()),
			zap.Uint32("frames", stats.Left+stats.Mono),
		)
		if state == link.Error {
			logger.Error("link failed", zap.Error(c.Err()))
		}
		last = state
	}
}

// readConsole turns terminal input into commands until stdin fails or a
// quit is read.
func readConsole(r io.Reader, out chan<- console.Command) {
	proc := console.NewProcessor()
	buf := make([]byte, stdinBufSize)
	var cmds []console.Command
	for {
		n, err := r.Read(buf)
		if n > 0 {
			cmds = proc.Process(buf[:n], cmds[:0])
			for _, k := range cmds {
				out <- k
				if k == console.CmdQuit {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func applyCommand(c *client.Client, k console.Command, quit func(), logger *zap.Logger) {
	switch k {
	case console.CmdToggleFocus:
		c.SetFocused(!c.Focused())
	case console.CmdTogglePresence:
		c.SetUserPresent(!c.UserPresent())
	case console.CmdStartLinking:
		c.StartLinking(-1)
	case console.CmdStopLinking:
		c.StopLinking()
	case console.CmdUnlink:
		c.Unlink()
	case console.CmdQuit:
		quit()
	}
	logger.Info("console command",
		zap.Stringer("command", k),
		zap.Bool("focused", c.Focused()),
		zap.Bool("present", c.UserPresent()),
	)
}
