package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ecchat/internal/asset"
	"ecchat/internal/config"
	"ecchat/internal/debuglog"
	"ecchat/internal/dispatch"
	"ecchat/internal/journal"
	"ecchat/internal/ledger"
	"ecchat/internal/metrics"
	"ecchat/internal/negotiate"
	"ecchat/internal/notify"
	"ecchat/internal/pprofutil"
	"ecchat/internal/ui"
)

const appVersion = "1.0.0"

func versionString() string { return "ecchat " + appVersion }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "ecchat: %v\n", err)
		return 1
	}
	return 0
}

type globalFlags struct {
	configPath string
	envFile    string
	debug      bool
}

type chatFlags struct {
	name  string
	other string
	tag   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	c := &chatFlags{}
	root := &cobra.Command{
		Use:           "ecchat",
		Short:         "Peer-to-peer chat and coin swaps over the ledger relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), g, c, os.Args)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.DefaultPath, "configuration file")
	root.PersistentFlags().StringVar(&g.envFile, "env", ".env", "optional .env file")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "debug logging")
	root.Flags().StringVarP(&c.name, "name", "n", "", "local nickname")
	root.Flags().StringVarP(&c.other, "other", "o", "", "remote nickname")
	root.Flags().StringVarP(&c.tag, "tag", "t", "", "remote routing tag")
	_ = root.MarkFlagRequired("name")
	_ = root.MarkFlagRequired("tag")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), versionString())
				return nil
			},
		},
		newConfigCmd(g),
		newHistoryCmd(g),
		newBridgeCmd(g),
	)
	return root
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	if err := config.LoadEnvFile(g.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", g.configPath, err)
	}
	return cfg, nil
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(g.configPath); err == nil && !force {
				return fmt.Errorf("%s exists; pass --force to overwrite", g.configPath)
			}
			if err := config.DefaultConfig().Save(g.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", g.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// buildRegistry creates one RPC client per configured coin, primary first.
func buildRegistry(cfg *config.Config) (*asset.Registry, error) {
	assets := make([]*asset.Asset, 0, len(cfg.Coins))
	for _, coin := range cfg.Coins {
		client, err := ledger.NewClient(ledger.Options{
			Address: coin.RPCAddress,
			User:    coin.RPCUser,
			Pass:    coin.RPCPass,
			Timeout: cfg.RPCTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("coin %s: %w", coin.Symbol, err)
		}
		assets = append(assets, &asset.Asset{Symbol: coin.Symbol, Service: client})
	}
	return asset.NewRegistry(assets...)
}

func notifyOverrides(cfg *config.Config) map[int]string {
	out := make(map[int]string)
	for i, coin := range cfg.Coins {
		if coin.Notify != "" {
			out[i] = coin.Notify
		}
	}
	return out
}

func runChat(parent context.Context, g *globalFlags, c *chatFlags, argv []string) error {
	if parent == nil {
		parent = context.Background()
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
	log.Info("STARTUP", zap.Strings("args", argv),
		zap.String("name", c.name), zap.String("other", c.other), zap.String("tag", c.tag))
	defer log.Info("SHUTDOWN")

	if addr, err := pprofutil.StartFromEnv(log); err != nil {
		log.Warn("pprof disabled", zap.Error(err))
	} else if addr != "" {
		log.Info("pprof listening", zap.String("addr", addr))
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	store, err := journal.NewStore(filepath.Join(cfg.DataDir, journal.FileName))
	if err != nil {
		return err
	}
	m := metrics.New()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	grp, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	term := ui.New(runCtx, ui.Options{Version: appVersion, Name: c.name, Other: c.other})
	d := dispatch.New(reg, term, dispatch.Options{
		PeerTag:     c.tag,
		ProtocolID:  cfg.ProtocolID,
		ProtocolVer: cfg.ProtocolVer,
		Version:     versionString(),
		Timeouts: negotiate.Timeouts{
			Send:        cfg.SendTimeout(),
			SwapPropose: cfg.SwapProposeTimeout(),
			SwapStep:    cfg.SwapStepTimeout(),
		},
		StatusInterval:      cfg.StatusInterval(),
		MaintenanceInterval: cfg.MaintenanceInterval(),
		RateLimit:           cfg.RateLimit,
		DataDir:             cfg.DataDir,
		Journal:             store,
		Metrics:             m,
		Log:                 log,
	})
	if err := d.Start(ctx); err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := d.Close(closeCtx); err != nil {
			log.Warn("release relay", zap.Error(err))
		}
	}()

	sources, err := d.NotificationSources(notifyOverrides(cfg))
	if err != nil {
		return err
	}
	signals := make(chan notify.Signal, 64)

	grp.Go(func() error {
		defer cancel()
		return term.Run(runCtx)
	})
	grp.Go(func() error {
		defer cancel()
		return d.Run(runCtx, term.Input(), signals)
	})
	for _, src := range sources {
		grp.Go(func() error { return src.Run(runCtx, signals) })
	}
	if cfg.MetricsAddr != "" {
		grp.Go(func() error {
			if err := metrics.Serve(runCtx, cfg.MetricsAddr, m); err != nil {
				log.Warn("metrics endpoint", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
			}
			return nil
		})
	}
	return grp.Wait()
}
