// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package natsstream implements the storage driver contract on NATS
// JetStream via Watermill. Events go through the durable stream (replayable
// from the start of the stream when Replay is set); the per-agent read model
// is a process-local mirror populated on every write, since JetStream is a
// log, not a KV store.
package natsstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/storage/memstate"
	"github.com/tomtom215/fleettrace/storage/wmlog"
)

// Config holds NATS JetStream driver configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string `koanf:"url"`

	// Topic is the stream subject carrying event envelopes.
	Topic string `koanf:"topic"`

	// DurableName prefixes the durable consumer. Empty means ephemeral.
	DurableName string `koanf:"durable_name"`

	// QueueGroup load-balances delivery across instances sharing the group.
	QueueGroup string `koanf:"queue_group"`

	// Replay delivers the full stream from its first position on subscribe
	// instead of only new messages.
	Replay bool `koanf:"replay"`

	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
}

// DefaultConfig returns a config suitable for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:            natsgo.DefaultURL,
		Topic:          "fleettrace.events",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		AckWaitTimeout: 30 * time.Second,
	}
}

// Driver is the NATS JetStream storage backend.
type Driver struct {
	cfg    Config
	log    zerolog.Logger
	state  *memstate.Store
	fanout *memstate.Fanout

	// breaker protects the publish path from a flapping broker.
	breaker *gobreaker.CircuitBreaker[any]

	mu        sync.Mutex
	publisher message.Publisher
	sub       message.Subscriber
	subCancel context.CancelFunc
	subDone   chan struct{}
	connected bool
}

var _ storage.Driver = (*Driver)(nil)

// New creates a JetStream driver. Connect establishes the publisher.
func New(cfg Config) *Driver {
	if cfg.Topic == "" {
		cfg.Topic = "fleettrace.events"
	}
	log := logging.With().Str("component", "storage.natsstream").Logger()

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "natsstream-publish",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("publish circuit breaker state change")
		},
	})

	return &Driver{
		cfg:     cfg,
		log:     log,
		state:   memstate.New(),
		fanout:  memstate.NewFanout(log),
		breaker: breaker,
	}
}

func (d *Driver) natsOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(d.cfg.MaxReconnects),
		natsgo.ReconnectWait(d.cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				d.log.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			d.log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
}

// Connect creates the JetStream publisher.
func (d *Driver) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         d.cfg.URL,
		NatsOptions: d.natsOptions(),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmlog.New(d.log))
	if err != nil {
		return fmt.Errorf("create jetstream publisher: %w", err)
	}

	d.publisher = pub
	d.connected = true
	return nil
}

// Close stops the subscriber loop and the publisher. Idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false

	d.stopSubscriberLocked()
	d.fanout.Unsubscribe()

	if err := d.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}

// State mirror: the per-agent read model is process-local.

func (d *Driver) checkConnected() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return storage.ErrClosed
	}
	return nil
}

func (d *Driver) SaveLocation(_ context.Context, agentID string, sample *model.LocationSample) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.SaveLocation(agentID, sample)
	return nil
}

func (d *Driver) LastLocation(_ context.Context, agentID string) (*model.LocationSample, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.LastLocation(agentID)
}

func (d *Driver) SaveStatus(_ context.Context, agentID string, status model.AgentStatus, _ int64) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.SaveStatus(agentID, status)
	return nil
}

func (d *Driver) Status(_ context.Context, agentID string) (model.AgentStatus, error) {
	if err := d.checkConnected(); err != nil {
		return "", err
	}
	return d.state.Status(agentID)
}

func (d *Driver) SaveAgentState(_ context.Context, state *model.AgentState) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.SaveState(state)
	return nil
}

func (d *Driver) AgentState(_ context.Context, agentID string) (*model.AgentState, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.State(agentID)
}

func (d *Driver) Agents(_ context.Context) ([]string, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.Agents(), nil
}

// PublishEvent appends the envelope to the JetStream stream through the
// circuit breaker. The envelope id doubles as the Nats-Msg-Id for broker-side
// deduplication.
func (d *Driver) PublishEvent(_ context.Context, env *events.Envelope) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return storage.ErrClosed
	}
	pub := d.publisher
	d.mu.Unlock()

	data, err := events.Marshal(env)
	if err != nil {
		return err
	}

	_, err = d.breaker.Execute(func() (any, error) {
		msg := message.NewMessage(env.EventID, data)
		return nil, pub.Publish(d.cfg.Topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish event to jetstream: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(env.Type).Inc()
	return nil
}

// SubscribeEvents registers the handler and, on first subscription, starts a
// JetStream consumer: durable when DurableName is set, ephemeral otherwise.
func (d *Driver) SubscribeEvents(handler events.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return storage.ErrClosed
	}

	d.fanout.Subscribe(handler)
	if d.sub != nil {
		return nil
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(3),
		natsgo.AckWait(d.cfg.AckWaitTimeout),
	}
	if d.cfg.Replay {
		subOpts = append(subOpts, natsgo.DeliverAll())
	} else {
		subOpts = append(subOpts, natsgo.DeliverNew())
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              d.cfg.URL,
		QueueGroupPrefix: d.cfg.QueueGroup,
		AckWaitTimeout:   d.cfg.AckWaitTimeout,
		NatsOptions:      d.natsOptions(),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    true,
			SubscribeOptions: subOpts,
			DurablePrefix:    d.cfg.DurableName,
		},
	}, wmlog.New(d.log))
	if err != nil {
		return fmt.Errorf("create jetstream subscriber: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := sub.Subscribe(ctx, d.cfg.Topic)
	if err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", d.cfg.Topic, err)
	}

	d.sub = sub
	d.subCancel = cancel
	d.subDone = make(chan struct{})
	go d.consume(ch, d.subDone)
	return nil
}

// UnsubscribeEvents stops the consumer and drops all handlers. Idempotent.
func (d *Driver) UnsubscribeEvents() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopSubscriberLocked()
	d.fanout.Unsubscribe()
	return nil
}

func (d *Driver) stopSubscriberLocked() {
	if d.sub == nil {
		return
	}
	d.subCancel()
	if err := d.sub.Close(); err != nil {
		d.log.Error().Err(err).Msg("close subscriber")
	}
	<-d.subDone
	d.sub = nil
	d.subCancel = nil
	d.subDone = nil
}

func (d *Driver) consume(ch <-chan *message.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		env, err := events.Unmarshal(msg.Payload)
		if err != nil {
			d.log.Error().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable event")
			msg.Ack()
			continue
		}
		d.fanout.Dispatch(env)
		msg.Ack()
	}
}

func (d *Driver) AgentStats(_ context.Context, agentID string) (*model.AgentStats, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	return d.state.Stats(agentID)
}

func (d *Driver) ClearAgentData(_ context.Context, agentID string) error {
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.state.Clear(agentID)
	return nil
}
