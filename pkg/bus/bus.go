package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/baggage"
)

// CorrelationHeader is the NATS message header carrying the correlation id,
// mirrored into OpenTelemetry baggage for cross-process propagation.
const CorrelationHeader = "X-Correlation-Id"

// Handler processes one consumed message. Handlers that want to abandon
// gracefully on cancellation should observe ctx.Err() and return promptly
// without publishing further events, per §4.2/§5.
type Handler func(ctx context.Context, correlationID string, payload []byte) error

// Bus is the interface satisfied by Client.
type Bus interface {
	Publish(ctx context.Context, subject string, correlationID string, payload any) error
	Request(ctx context.Context, subject string, correlationID string, payload any, timeout time.Duration) ([]byte, error)
	Subscribe(subject string, queue string, handler Handler) (unsubscribe func() error, err error)
	Close() error
}

// Client is a NATS-backed Bus.
type Client struct {
	nc      *nats.Conn
	cfg     *Config
	metrics *Metrics
}

// New connects to the NATS server described by cfg.
func New(cfg *Config, metrics *Metrics) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, NewBusError("connect", ErrCodeConnection, "failed to connect to NATS", err)
	}
	return &Client{nc: nc, cfg: cfg, metrics: metrics}, nil
}

func withCorrelation(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	member, err := baggage.NewMember("correlationId", correlationID)
	if err != nil {
		return ctx
	}
	b, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, b)
}

// Publish fire-and-forgets payload, marshaled as JSON, onto subject. The
// correlation id travels only in the message header on this path; NATS'
// PublishMsg takes no context, so OTel baggage is not attached here (see
// Subscribe, which builds a baggage-carrying context for the handler on the
// consume side).
func (c *Client) Publish(ctx context.Context, subject, correlationID string, payload any) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordPublish(ctx, subject, start, err) }()

	data, err := json.Marshal(payload)
	if err != nil {
		return NewBusError("publish", ErrCodeDecodeFailed, "failed to marshal payload", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if correlationID != "" {
		msg.Header.Set(CorrelationHeader, correlationID)
	}
	if err = c.nc.PublishMsg(msg); err != nil {
		return NewBusError("publish", ErrCodePublishFailed, "publish failed", err)
	}
	return nil
}

// Request performs request/response with an explicit timeout, honoring
// ctx cancellation ahead of the timeout.
func (c *Client) Request(ctx context.Context, subject, correlationID string, payload any, timeout time.Duration) (result []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordPublish(ctx, subject+".request", start, err) }()

	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, NewBusError("request", ErrCodeDecodeFailed, "failed to marshal payload", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if correlationID != "" {
		msg.Header.Set(CorrelationHeader, correlationID)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.nc.RequestMsgWithContext(reqCtx, msg)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, NewBusError("request", ErrCodeRequestTimeout, "request timed out or was cancelled", err)
		}
		return nil, NewBusError("request", ErrCodePublishFailed, "request failed", err)
	}
	return resp.Data, nil
}

// Subscribe registers handler on subject using a NATS queue group so that
// multiple consumer processes load-balance delivery. Per §4.2/§5, ordering
// across workers is not guaranteed.
func (c *Client) Subscribe(subject, queue string, handler Handler) (func() error, error) {
	sub, err := c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		correlationID := msg.Header.Get(CorrelationHeader)
		c.metrics.RecordConsume(context.Background(), subject)
		ctx := withCorrelation(context.Background(), correlationID)
		_ = handler(ctx, correlationID, msg.Data)
	})
	if err != nil {
		return nil, NewBusError("subscribe", ErrCodeConnection, "subscribe failed", err)
	}
	return sub.Unsubscribe, nil
}

// Close drains and closes the underlying NATS connection.
func (c *Client) Close() error {
	c.nc.Close()
	return nil
}
