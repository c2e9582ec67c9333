package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bulksend/internal/app"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and Telegram notifier until signalled",
		Long: `Run as a long-lived service: scheduled campaigns fire from cron
expressions, progress is reported to Telegram, and the config file is
reloaded on change. SIGINT or SIGTERM stops any active run and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancelCause(cmd.Context())
			defer cancel(nil)

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				select {
				case sig := <-sigs:
					if sig == syscall.SIGTERM {
						cancel(app.StopSIGTERM)
					} else {
						cancel(app.StopSIGINT)
					}
				case <-ctx.Done():
				}
			}()

			a, err := g.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}
