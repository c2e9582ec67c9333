package notifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "bulksend/pkg/logx"
)

const telegramTextLimit = 4000

type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int
	OwnerUserID []int64
	PollTimeout time.Duration
}

// Telegram is the bot behind the notifier. Messages go to ChatID, or to
// every owner's private chat when ChatID is zero.
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

func (t *Telegram) targets() []int64 {
	if t.cfg.ChatID != 0 {
		return []int64{t.cfg.ChatID}
	}
	return t.cfg.OwnerUserID
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	var errs []error
	for _, id := range t.targets() {
		for _, chunk := range splitText(text, telegramTextLimit) {
			if err := ctx.Err(); err != nil {
				return err
			}
			opt := &tele.SendOptions{DisableWebPagePreview: true}
			if id == t.cfg.ChatID {
				opt.ThreadID = t.cfg.ThreadID
			}
			if _, err := t.bot.Send(&tele.Chat{ID: id}, chunk, opt); err != nil {
				errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
				break
			}
		}
	}
	return errors.Join(errs...)
}

// HandleCommands routes owner commands to ctrl. Other senders are ignored.
func (t *Telegram) HandleCommands(ctrl Controller) {
	for _, cmd := range []string{"/status", "/pause", "/resume", "/stop"} {
		t.bot.Handle(cmd, func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || !slices.Contains(t.cfg.OwnerUserID, sender.ID) {
				t.log.Debug("command from non-owner ignored", logx.String("cmd", cmd))
				return nil
			}
			t.log.Info("command", logx.String("cmd", cmd), logx.Int64("user_id", sender.ID))
			return c.Reply(runCommand(ctrl, cmd))
		})
	}
}

// Run polls for updates until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.bot.Stop()
		case <-done:
		}
	}()
	t.log.Info("polling started")
	t.bot.Start()
	t.log.Info("polling stopped")
	if ctx.Err() == nil {
		return errors.New("telegram polling exited")
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
	}
	return out
}
