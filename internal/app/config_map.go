package app

import (
	"strings"
	"time"

	"bulksend/internal/config"
	"bulksend/internal/dispatch"
	"bulksend/internal/notifier"
	"bulksend/internal/observability/statushttp"
	"bulksend/internal/profiles"
	"bulksend/internal/sender"
	"bulksend/internal/storage"
	logx "bulksend/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns the memory store for a missing section.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		driver = "memory"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapSenderConfig(cfg *config.Config) (sender.Config, error) {
	sc := cfg.Sender
	latency, err := config.ParseDurationField("sender.dryrun.latency", sc.DryRun.Latency)
	if err != nil {
		return sender.Config{}, err
	}
	httpTimeout, err := config.ParseDurationField("sender.http.timeout", sc.HTTP.Timeout)
	if err != nil {
		return sender.Config{}, err
	}
	confirm, err := config.ParseDurationField("sender.amqp.confirm_timeout", sc.AMQP.ConfirmTimeout)
	if err != nil {
		return sender.Config{}, err
	}
	return sender.Config{
		Driver:        sc.Driver,
		RatePerSecond: sc.RatePerSec,
		Burst:         sc.Burst,
		DryRun: sender.DryRunConfig{
			Latency:        latency,
			FailEvery:      sc.DryRun.FailEvery,
			FailRecipients: sc.DryRun.FailRecipients,
		},
		HTTP: sender.HTTPConfig{BaseURL: sc.HTTP.BaseURL, Timeout: httpTimeout},
		AMQP: sender.AMQPConfig{
			URL:            sc.AMQP.URL,
			Exchange:       sc.AMQP.Exchange,
			RoutingKey:     sc.AMQP.RoutingKey,
			ConfirmTimeout: confirm,
		},
	}, nil
}

func mapProfilesConfig(cfg *config.Config) (profiles.Config, error) {
	timeout, err := config.ParseDurationOrDefault("profiles.timeout", cfg.Profiles.Timeout, 10*time.Second)
	if err != nil {
		return profiles.Config{}, err
	}
	return profiles.Config{
		Source:  cfg.Profiles.Source,
		Static:  cfg.Profiles.Names,
		BaseURL: cfg.Profiles.BaseURL,
		Timeout: timeout,
	}, nil
}

func mapPollInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("dispatch.poll_interval", cfg.Dispatch.PollInterval, dispatch.DefaultPollInterval)
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}
	}
	return notifier.Config{
		Enabled:        n.Enabled,
		RatePerSec:     n.RatePerSec,
		RetryMax:       3,
		ReportFailures: true,
	}
}

func mapTelegramConfig(cfg *config.Config) (notifier.TelegramConfig, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.TelegramConfig{}, nil
	}
	poll, err := config.ParseDurationOrDefault("notifier.poll_timeout", n.PollTimeout, 10*time.Second)
	if err != nil {
		return notifier.TelegramConfig{}, err
	}
	return notifier.TelegramConfig{
		Token:       n.Token,
		ChatID:      n.ChatID,
		ThreadID:    n.ThreadID,
		OwnerUserID: n.OwnerUserIDs,
		PollTimeout: poll,
	}, nil
}

func mapStatusConfig(cfg *config.Config) (statushttp.Config, error) {
	st := cfg.Status
	if st == nil {
		return statushttp.Config{}, nil
	}
	read, err := config.ParseDurationOrDefault("status.read_timeout", st.ReadTimeout, 10*time.Second)
	if err != nil {
		return statushttp.Config{}, err
	}
	// pprof profiles run for 30s by default.
	write, err := config.ParseDurationOrDefault("status.write_timeout", st.WriteTimeout, 60*time.Second)
	if err != nil {
		return statushttp.Config{}, err
	}
	return statushttp.Config{
		Enabled:       st.Enabled,
		Addr:          strings.TrimSpace(st.Addr),
		Token:         strings.TrimSpace(st.Token),
		AllowInsecure: st.AllowInsecure,
		Pprof:         st.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
	}, nil
}
