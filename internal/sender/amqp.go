package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"bulksend/internal/dispatch"
	logx "bulksend/pkg/logx"
)

// ErrNack is returned when the broker refuses a publish.
var ErrNack = errors.New("broker nacked send request")

const (
	defaultAMQPExchange   = "bulksend"
	defaultAMQPRouting    = "send.request"
	defaultConfirmTimeout = 15 * time.Second
)

type AMQPConfig struct {
	URL            string
	Exchange       string
	RoutingKey     string
	ConfirmTimeout time.Duration
}

func (c AMQPConfig) withDefaults() AMQPConfig {
	if strings.TrimSpace(c.Exchange) == "" {
		c.Exchange = defaultAMQPExchange
	}
	if strings.TrimSpace(c.RoutingKey) == "" {
		c.RoutingKey = defaultAMQPRouting
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	return c
}

// SendRequest is the JSON body published for each task. A downstream worker
// performs the actual delivery.
type SendRequest struct {
	ID        string    `json:"id"`
	Profile   string    `json:"profile"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message,omitempty"`
	ImageRef  string    `json:"image_ref,omitempty"`
	AudioRef  string    `json:"audio_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// confirmation is satisfied by *amqp.DeferredConfirmation.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publisher interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

type channelPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (p *channelPublisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	return p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
}

func (p *channelPublisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}

// AMQP publishes send requests to a topic exchange and treats the broker's
// publisher confirm as the send outcome.
type AMQP struct {
	cfg AMQPConfig
	log logx.Logger
	now func() time.Time

	mu   sync.Mutex
	dial func(ctx context.Context) (publisher, error)
	pub  publisher
}

// DialAMQP connects, declares the exchange and enables confirm mode.
func DialAMQP(ctx context.Context, cfg AMQPConfig, log logx.Logger) (*AMQP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("sender.amqp.url is required")
	}
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &AMQP{cfg: cfg, log: log.With(logx.String("driver", "amqp")), now: time.Now}
	a.dial = a.dialChannel
	pub, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	a.pub = pub
	return a, nil
}

func (a *AMQP) dialChannel(_ context.Context) (publisher, error) {
	host := ""
	if u, err := url.Parse(a.cfg.URL); err == nil {
		host = u.Host
	}
	a.log.Info("connecting to rabbitmq", logx.String("host", host), logx.String("exchange", a.cfg.Exchange))

	conn, err := amqp.Dial(a.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(a.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", a.cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &channelPublisher{conn: conn, ch: ch}, nil
}

func (a *AMQP) Send(ctx context.Context, t dispatch.SendTask) error {
	req := SendRequest{
		ID:        uuid.NewString(),
		Profile:   t.ProfileID,
		Phone:     t.Recipient,
		Message:   t.Payload.Text,
		ImageRef:  t.Payload.ImageRef,
		AudioRef:  t.Payload.AudioRef,
		CreatedAt: a.now().UTC(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, a.cfg.ConfirmTimeout)
	defer cancel()

	// One channel in confirm mode; publishes are serialized.
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub == nil {
		pub, err := a.dial(ctx)
		if err != nil {
			return err
		}
		a.pub = pub
	}

	conf, err := a.pub.publish(ctx, a.cfg.Exchange, a.cfg.RoutingKey, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     req.ID,
		CorrelationId: req.ID,
		Type:          "bulksend.send_request",
		Timestamp:     req.CreatedAt,
		Body:          body,
	})
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			_ = a.pub.Close()
			a.pub = nil
		}
		return fmt.Errorf("publish send request: %w", err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNack, req.ID)
	}
	a.log.Debug("published", logx.String("id", req.ID), logx.String("recipient", t.Recipient), logx.String("profile", t.ProfileID))
	return nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub == nil {
		return nil
	}
	err := a.pub.Close()
	a.pub = nil
	return err
}
