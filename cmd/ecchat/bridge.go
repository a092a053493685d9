package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ecchat/internal/debuglog"
	"ecchat/internal/metrics"
	"ecchat/internal/notify"
)

func newBridgeCmd(g *globalFlags) *cobra.Command {
	var (
		listen     string
		upstream   string
		connsPerIP int
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Re-publish a daemon's ZMQ notifications over QUIC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" || upstream == "" {
				return errors.New("--listen and --zmq are required")
			}
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			log, err := debuglog.New(debuglog.Options{Dir: cfg.LogDir, Debug: g.debug})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			restore := debuglog.Set(log)
			defer restore()

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			m := metrics.New()
			b := &notify.Bridge{Listen: listen, Upstream: upstream, ConnsPerIP: connsPerIP, Log: log, Metrics: m}
			go func() {
				select {
				case <-b.Ready():
					fmt.Fprintf(cmd.OutOrStdout(), "READY addr=%s upstream=%s\n", b.Addr(), upstream)
				case <-ctx.Done():
				}
			}()
			if cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, cfg.MetricsAddr, m); err != nil {
						log.Warn("metrics endpoint", zap.Error(err))
					}
				}()
			}
			return b.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "QUIC listen address (host:port)")
	cmd.Flags().StringVar(&upstream, "zmq", "", "daemon ZMQ publisher, e.g. tcp://127.0.0.1:28001")
	cmd.Flags().IntVar(&connsPerIP, "conns-per-ip", 4, "concurrent subscribers allowed per address")
	return cmd
}
