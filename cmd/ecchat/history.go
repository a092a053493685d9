package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"ecchat/internal/crypto"
	"ecchat/internal/journal"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		n      int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent transfers from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			store, err := journal.NewStore(filepath.Join(cfg.DataDir, journal.FileName))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			entries, err := store.Tail(n)
			if err != nil {
				return err
			}
			if len(entries) == 0 && !follow {
				fmt.Fprintln(out, "no transfers")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			if !follow {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return store.Follow(ctx, func(e journal.Entry) { printEntry(out, e) })
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new entries")
	return cmd
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printEntry(w io.Writer, e journal.Entry) {
	txid := e.TxID
	if txid == "" {
		txid = "-"
	}
	line := fmt.Sprintf("%s %-3s %s %s %s txid=%s peer=%s",
		e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		e.Direction, e.Amount, e.Coin, e.Addr, txid, crypto.ShortTag(e.Peer))
	if e.Error != "" {
		line += " error=" + e.Error
	}
	fmt.Fprintln(w, line)
}
