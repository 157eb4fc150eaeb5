package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		opts      config.Options
		startWhen int
		noOffer   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "runs a mesh node",
		Long:  `runs a mesh node that listens for peers over QUIC, dials the join addresses and links to every peer it learns about`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("no-media-offer") {
				offer := !noOffer
				opts.MediaAutoOffer = &offer
			}
			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}
			log := logger.NewLeveledLogger(os.Stderr, logger.ParseLevel(cfg.LogLevel))

			node, err := NewNode(cfg, log, startWhen)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if startWhen > 0 {
				go waitForStart(ctx, node, startWhen)
			}
			return node.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Path, "config", "c", "", "YAML config file (or MESH_CONFIG)")
	f.StringVar(&opts.ID, "id", "", "peer id (random when unset)")
	f.StringVar(&opts.Account, "account", "", "account announced to peers")
	f.StringVarP(&opts.Listen, "listen", "l", "", "QUIC listen address")
	f.StringSliceVarP(&opts.Join, "join", "j", nil, "QUIC address of a peer to join, repeatable")
	f.StringVar(&opts.Format, "format", "", "wire format: json or msgpack")
	f.DurationVar(&opts.PollInterval, "poll-interval", 0, "start barrier poll interval")
	f.IntVar(&opts.MaxPollAttempts, "max-poll-attempts", 0, "give up a start after this many checks (0 polls forever)")
	f.BoolVar(&noOffer, "no-media-offer", false, "do not offer media back to peers")
	f.StringSliceVar(&opts.STUNServers, "stun", nil, "STUN server URL, repeatable")
	f.StringVar(&opts.Journal, "journal", "", "SQLite journal path")
	f.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")
	f.IntVar(&startWhen, "start-when", 0, "request a start once this many peers, this one included, are ready")
	return cmd
}

// waitForStart shows a spinner until the room starts.
func waitForStart(ctx context.Context, node *Node, want int) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription(fmt.Sprintf("Waiting for %d peers", want)),
		progressbar.OptionClearOnFinish(),
	)
	defer func() { _ = bar.Finish() }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-node.Started():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			bar.Describe(fmt.Sprintf("Waiting for %d peers (%d ready)", want, node.Ready()+1))
			_ = bar.Add(1)
		}
	}
}
