package config

// Config is the bulksend configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "15m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Sender    SenderConfig    `json:"sender"`
	Profiles  ProfilesConfig  `json:"profiles"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Status    *StatusConfig   `json:"status,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistent store for the event log and groups.
// A nil section keeps everything in memory.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bulksend.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SenderConfig struct {
	Driver     string  `json:"driver"` // dryrun | http | amqp
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	DryRun DryRunConfig `json:"dryrun,omitempty"`
	HTTP   HTTPConfig   `json:"http,omitempty"`
	AMQP   AMQPConfig   `json:"amqp,omitempty"`
}

type DryRunConfig struct {
	Latency        string   `json:"latency,omitempty"`
	FailEvery      int      `json:"fail_every,omitempty"`
	FailRecipients []string `json:"fail_recipients,omitempty"`
}

type HTTPConfig struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout,omitempty"`
}

type AMQPConfig struct {
	URL            string `json:"url"` // may carry credentials (do not log)
	Exchange       string `json:"exchange,omitempty"`
	RoutingKey     string `json:"routing_key,omitempty"`
	ConfirmTimeout string `json:"confirm_timeout,omitempty"`
}

type ProfilesConfig struct {
	Source  string   `json:"source"` // static | http
	Names   []string `json:"names,omitempty"`
	BaseURL string   `json:"base_url,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

type DispatchConfig struct {
	// PollInterval is how often a paused run re-checks its status.
	PollInterval string       `json:"poll_interval,omitempty"`
	Pacing       PacingConfig `json:"pacing"`
}

// PacingConfig mirrors dispatch.PacingConfig with string durations.
// Omitted fields fall back to the built-in defaults.
type PacingConfig struct {
	Mode     string          `json:"mode,omitempty"` // fixed | random
	Fixed    string          `json:"fixed,omitempty"`
	Min      string          `json:"min,omitempty"`
	Max      string          `json:"max,omitempty"`
	AutoRest *AutoRestConfig `json:"auto_rest,omitempty"`
}

type AutoRestConfig struct {
	AfterCount  int `json:"after_count"`
	RestMinutes int `json:"rest_minutes"`
}

// NotifierConfig controls the Telegram operator bot.
type NotifierConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"` // do not log
	ChatID       int64   `json:"chat_id"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	RatePerSec   int     `json:"rate_per_sec,omitempty"`
	// Commands enables /status /pause /resume /stop from owners.
	Commands bool `json:"commands,omitempty"`
}

// StatusConfig controls the read-only HTTP status listener of serve.
// Non-loopback addresses need a token unless allow_insecure is set.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:6061
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled   bool             `json:"enabled"`
	Timezone  string           `json:"timezone,omitempty"`
	Campaigns []CampaignConfig `json:"campaigns,omitempty"`
}

// CampaignConfig is a scheduled run of a saved profile group.
type CampaignConfig struct {
	Name           string        `json:"name"`
	Schedule       string        `json:"schedule"` // cron expression or descriptor (@every 1h)
	Group          string        `json:"group"`
	RecipientsFile string        `json:"recipients_file"`
	Pacing         *PacingConfig `json:"pacing,omitempty"`
	Disabled       bool          `json:"disabled,omitempty"`
}
