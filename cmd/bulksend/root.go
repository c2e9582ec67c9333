package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bulksend/internal/app"
	"bulksend/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globals struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	g := &globals{v: viper.New()}
	g.v.SetEnvPrefix("BULKSEND")
	g.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	g.v.AutomaticEnv()
	g.v.SetDefault("config", "./bulksend.yaml")

	root := &cobra.Command{
		Use:           "bulksend",
		Short:         "Paced bulk messaging over a pool of sender profiles",
		Long:          "bulksend sends one message per recipient and sender profile with fixed or randomized pacing, automatic rest windows, pause/resume/stop control and a persistent event log.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "./bulksend.yaml", "config file (YAML or JSON) [BULKSEND_CONFIG]")
	pf.String("log-level", "", "override logging.level [BULKSEND_LOG_LEVEL]")
	_ = g.v.BindPFlag("config", pf.Lookup("config"))
	_ = g.v.BindPFlag("log-level", pf.Lookup("log-level"))

	root.AddCommand(
		newRunCmd(g),
		newETACmd(g),
		newGroupsCmd(g),
		newLogsCmd(g),
		newServeCmd(g),
		newVersionCmd(),
	)
	return root
}

// openApp loads the config and applies command-line overrides before
// building the app.
func (g *globals) openApp(ctx context.Context) (*app.App, error) {
	cfgm := config.NewConfigManager(g.v.GetString("config"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if lvl := strings.TrimSpace(g.v.GetString("log-level")); lvl != "" {
		c := *cfg
		c.Logging.Level = lvl
		cfgm.Commit(&c)
	}
	return app.NewWithManager(ctx, cfgm)
}
