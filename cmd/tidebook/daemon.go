package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidebook/tidebook/internal/inbox"
	"github.com/tidebook/tidebook/internal/syncer"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the connectivity prober and inbox importer until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		errCh := make(chan error, 2)

		if a.cfg.ProbeAddr != "" {
			probe := syncer.DialProbe(a.cfg.ProbeAddr, 3*time.Second)
			prober := syncer.NewProber(a.sync, probe, a.cfg.ProbeInterval, a.log)
			go func() { errCh <- prober.Run(ctx) }()
			fmt.Printf("Probing %s every %v\n", a.cfg.ProbeAddr, a.cfg.ProbeInterval)
		} else {
			// Without a probe target the remote is assumed reachable;
			// the embedded remote database always is.
			if err := a.goOnline(ctx); err != nil {
				a.log.Warn().Err(err).Msg("initial drain failed")
			}
		}

		if a.cfg.InboxDir != "" {
			im, err := inbox.New(a.cfg.InboxDir, a.lifecycle, a.log)
			if err != nil {
				return err
			}
			go func() { errCh <- im.Run(ctx) }()
			fmt.Printf("Watching inbox %s\n", a.cfg.InboxDir)
		}

		fmt.Println("Daemon running, Ctrl-C to stop")
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		}
	},
}
