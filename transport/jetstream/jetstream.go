// Package jetstream carries message endpoints over NATS JetStream. All topics
// share one stream and each topic gets a durable pull consumer, so requests
// survive restarts and are redelivered when an evaluation nacks them.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/evalflow/transport"
)

const TransportName = "nats-jetstream"

const (
	DefaultStreamName = "EVALFLOW"
	DefaultMaxDeliver = 3
	DefaultAckWait    = 30 * time.Second
	DefaultBatchSize  = 10
	DefaultMaxAge     = 7 * 24 * time.Hour

	fetchWait = time.Second
)

var errClosed = errors.New("jetstream: transport is closed")

var consumerName = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func init() {
	transport.Register(TransportName, Build, transport.JetStreamCapabilities)
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t, Subscriber: t}, nil
}

type Config struct {
	URL        string
	StreamName string
	MaxDeliver int
	AckWait    time.Duration
	BatchSize  int
	Replicas   int
	MaxAge     time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

func (c Config) subject(topic string) string {
	return c.StreamName + "." + topic
}

func (c Config) durable(topic string) string {
	return "evalflow_" + consumerName.Replace(topic)
}

// Transport is both the publisher and the subscriber.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("evalflow"))
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}

	t := &Transport{nc: nc, js: js, config: cfg, logger: logger, done: make(chan struct{})}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
	}
	_, err := t.js.StreamInfo(t.config.StreamName)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = t.js.AddStream(streamCfg)
	case err == nil:
		_, err = t.js.UpdateStream(streamCfg)
	}
	if err != nil {
		return fmt.Errorf("jetstream: ensure stream %s: %w", t.config.StreamName, err)
	}
	return nil
}

// Publish stores messages in the stream. The message UUID doubles as the
// JetStream deduplication id.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(t.config.subject(topic), msg)); err != nil {
			return fmt.Errorf("jetstream: publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe binds a durable pull consumer to topic. The returned channel is
// closed when ctx is done or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errClosed
	}

	sub, err := t.js.PullSubscribe(
		t.config.subject(topic),
		t.config.durable(topic),
		nats.BindStream(t.config.StreamName),
		nats.AckExplicit(),
		nats.MaxDeliver(t.config.MaxDeliver),
		nats.AckWait(t.config.AckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe %s: %w", topic, err)
	}
	t.subs = append(t.subs, sub)

	out := make(chan *message.Message)
	t.wg.Add(1)
	go t.consume(ctx, sub, topic, out)
	return out, nil
}

func (t *Transport) consume(ctx context.Context, sub *nats.Subscription, topic string, out chan<- *message.Message) {
	defer t.wg.Done()
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		batch, err := sub.Fetch(t.config.BatchSize, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if t.isClosed() {
				return
			}
			t.logger.Error("JetStream fetch failed", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, raw := range batch {
			if !t.deliver(ctx, raw, out) {
				return
			}
		}
	}
}

// deliver hands one message to the router and settles it. It reports false
// when the consumer should stop.
func (t *Transport) deliver(ctx context.Context, raw *nats.Msg, out chan<- *message.Message) bool {
	msg := fromNATS(raw)
	msgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	msg.SetContext(msgCtx)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}

	var settle func(...nats.AckOpt) error
	select {
	case <-msg.Acked():
		settle = raw.Ack
	case <-msg.Nacked():
		settle = raw.Nak
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
	if err := settle(); err != nil {
		t.logger.Error("JetStream settle failed", err, watermill.LogFields{"message_uuid": msg.UUID})
	}
	return true
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops every consumer and drains the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	t.wg.Wait()
	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	t.nc.Close()
	return errors.Join(errs...)
}

func toNATS(subject string, msg *message.Message) *nats.Msg {
	header := nats.Header{}
	for k, v := range msg.Metadata {
		header.Set(k, v)
	}
	header.Set(nats.MsgIdHdr, msg.UUID)
	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: header}
}

func fromNATS(raw *nats.Msg) *message.Message {
	uuid := raw.Header.Get(nats.MsgIdHdr)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, raw.Data)
	for k, v := range raw.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}
