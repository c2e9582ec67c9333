package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bulksend/internal/config"
	"bulksend/internal/dispatch"
)

func newETACmd(g *globals) *cobra.Command {
	var (
		recipients string
		count      int
		profiles   int
		pacing     pacingFlags
	)
	cmd := &cobra.Command{
		Use:   "eta",
		Short: "Estimate how long a bulk send would take",
		Example: `  bulksend eta --count 120 --profiles 3 --mode random --min 60s --max 240s
  bulksend eta --recipients list.txt --profiles 2 --rest-after 30 --rest-minutes 15`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if recipients != "" {
				list, err := readRecipients(recipients)
				if err != nil {
					return err
				}
				count = len(list)
			}
			if count < 1 || profiles < 1 {
				return errors.New("need at least one recipient (--count or --recipients) and one profile (--profiles)")
			}

			// The estimate works without a config file; use it when present.
			base := config.PacingConfig{}
			cfgm := config.NewConfigManager(g.v.GetString("config"))
			if cfg, err := cfgm.Load(); err == nil {
				base = cfg.Dispatch.Pacing
			}
			p, err := pacing.resolve(base)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), etaReport(count*profiles, p))
			return err
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&recipients, "recipients", "", "count recipients in this file")
	fs.IntVar(&count, "count", 0, "number of recipients")
	fs.IntVar(&profiles, "profiles", 1, "number of sender profiles")
	pacing.register(fs)
	return cmd
}

func etaReport(total int, p dispatch.PacingConfig) string {
	s := fmt.Sprintf("messages:   %d\n", total)
	switch p.Mode {
	case dispatch.PacingRandom:
		s += fmt.Sprintf("pacing:     random %s..%s\n", p.Min, p.Max)
	default:
		s += fmt.Sprintf("pacing:     fixed %s\n", p.Fixed)
	}
	if p.AutoRest != nil {
		s += fmt.Sprintf("auto-rest:  %d windows of %dm (every %d messages)\n",
			dispatch.RestWindows(total, p), p.AutoRest.RestMinutes, p.AutoRest.AfterCount)
	}
	s += fmt.Sprintf("estimated:  %s\n", orNoWait(dispatch.FormatETA(dispatch.Estimate(total, p))))
	return s
}
