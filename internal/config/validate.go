package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// CronParser accepts an optional seconds field and descriptors like @every 1h.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks everything that can be checked without opening resources.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		case "postgres", "postgresql", "pg":
			if strings.TrimSpace(s.DSN) == "" {
				add(errors.New("storage.dsn is required for driver postgres"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Sender.Driver)) {
	case "", "dryrun", "dry-run":
	case "http":
		if strings.TrimSpace(cfg.Sender.HTTP.BaseURL) == "" {
			add(errors.New("sender.http.base_url is required"))
		}
	case "amqp", "rabbitmq":
		if strings.TrimSpace(cfg.Sender.AMQP.URL) == "" {
			add(errors.New("sender.amqp.url is required"))
		}
	default:
		add(fmt.Errorf("sender.driver: unknown driver %q", cfg.Sender.Driver))
	}
	if cfg.Sender.RatePerSec < 0 {
		add(errors.New("sender.rate_per_sec must be >= 0"))
	}
	_, err := ParseDurationField("sender.dryrun.latency", cfg.Sender.DryRun.Latency)
	add(err)
	_, err = ParseDurationField("sender.http.timeout", cfg.Sender.HTTP.Timeout)
	add(err)
	_, err = ParseDurationField("sender.amqp.confirm_timeout", cfg.Sender.AMQP.ConfirmTimeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Profiles.Source)) {
	case "", "static":
	case "http":
		if strings.TrimSpace(cfg.Profiles.BaseURL) == "" {
			add(errors.New("profiles.base_url is required for source http"))
		}
	default:
		add(fmt.Errorf("profiles.source: unknown source %q", cfg.Profiles.Source))
	}
	_, err = ParseDurationField("profiles.timeout", cfg.Profiles.Timeout)
	add(err)

	_, err = ParseDurationField("dispatch.poll_interval", cfg.Dispatch.PollInterval)
	add(err)
	add(validatePacing("dispatch.pacing", cfg.Dispatch.Pacing))

	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			add(errors.New("notifier.token is required when enabled"))
		}
		if n.ChatID == 0 && len(n.OwnerUserIDs) == 0 {
			add(errors.New("notifier needs chat_id or owner_user_ids"))
		}
		_, err = ParseDurationField("notifier.poll_timeout", n.PollTimeout)
		add(err)
	}

	if st := cfg.Status; st != nil && st.Enabled {
		if addr := strings.TrimSpace(st.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add(fmt.Errorf("status.addr: %w", err))
			}
		}
		_, err = ParseDurationField("status.read_timeout", st.ReadTimeout)
		add(err)
		_, err = ParseDurationField("status.write_timeout", st.WriteTimeout)
		add(err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	names := map[string]bool{}
	for i, c := range cfg.Scheduler.Campaigns {
		path := fmt.Sprintf("scheduler.campaigns[%d]", i)
		name := strings.TrimSpace(c.Name)
		if name == "" {
			add(fmt.Errorf("%s.name is required", path))
		} else if names[name] {
			add(fmt.Errorf("%s.name %q is duplicated", path, name))
		}
		names[name] = true
		if _, err := CronParser.Parse(strings.TrimSpace(c.Schedule)); err != nil {
			add(fmt.Errorf("%s.schedule: %w", path, err))
		}
		if strings.TrimSpace(c.Group) == "" {
			add(fmt.Errorf("%s.group is required", path))
		}
		if strings.TrimSpace(c.RecipientsFile) == "" {
			add(fmt.Errorf("%s.recipients_file is required", path))
		}
		if c.Pacing != nil {
			add(validatePacing(path+".pacing", *c.Pacing))
		}
	}
	return errors.Join(errs...)
}

func validatePacing(path string, p PacingConfig) error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(p.Mode)) {
	case "", "fixed", "random":
	default:
		errs = append(errs, fmt.Errorf("%s.mode: unknown mode %q", path, p.Mode))
	}
	for _, f := range []struct{ name, raw string }{{"fixed", p.Fixed}, {"min", p.Min}, {"max", p.Max}} {
		if _, err := ParseDurationField(path+"."+f.name, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if r := p.AutoRest; r != nil {
		if r.AfterCount < 1 {
			errs = append(errs, fmt.Errorf("%s.auto_rest.after_count must be >= 1", path))
		}
		if r.RestMinutes < 1 {
			errs = append(errs, fmt.Errorf("%s.auto_rest.rest_minutes must be >= 1", path))
		}
	}
	return errors.Join(errs...)
}
