package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bulksend/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (bot token, DSN, AMQP URL) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if (oldCfg.Storage == nil) != (newCfg.Storage == nil) || !reflect.DeepEqual(oS, nS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sender, newCfg.Sender) {
		changed = append(changed, "sender")
		attrs = append(attrs,
			logx.String("sender.driver", strings.TrimSpace(newCfg.Sender.Driver)),
			logx.Float64("sender.rate_per_sec", newCfg.Sender.RatePerSec),
			logx.String("sender.http.base_url", strings.TrimSpace(newCfg.Sender.HTTP.BaseURL)),
			logx.Bool("sender.amqp.url_set", strings.TrimSpace(newCfg.Sender.AMQP.URL) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Profiles, newCfg.Profiles) {
		changed = append(changed, "profiles")
		attrs = append(attrs,
			logx.String("profiles.source", newCfg.Profiles.Source),
			logx.Int("profiles.static_count", len(newCfg.Profiles.Names)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.poll_interval", newCfg.Dispatch.PollInterval),
			logx.String("dispatch.pacing.mode", newCfg.Dispatch.Pacing.Mode),
			logx.Bool("dispatch.pacing.auto_rest", newCfg.Dispatch.Pacing.AutoRest != nil),
		)
	}

	oN, nN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Bool("notifier.token_set", strings.TrimSpace(nN.Token) != ""),
			logx.Int64("notifier.chat_id", nN.ChatID),
			logx.Int("notifier.owner_count", len(nN.OwnerUserIDs)),
			logx.Bool("notifier.commands", nN.Commands),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.campaigns", len(newCfg.Scheduler.Campaigns)),
		)
	}

	oSt, nSt := derefStatus(oldCfg.Status), derefStatus(newCfg.Status)
	if !reflect.DeepEqual(oSt, nSt) {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", nSt.Enabled),
			logx.String("status.addr", strings.TrimSpace(nSt.Addr)),
			logx.Bool("status.token_set", strings.TrimSpace(nSt.Token) != ""),
			logx.Bool("status.pprof", nSt.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that cannot be applied to a running daemon.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "sender", "profiles":
			out = append(out, s)
		}
	}
	return out
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefStatus(s *StatusConfig) StatusConfig {
	if s == nil {
		return StatusConfig{}
	}
	return *s
}
