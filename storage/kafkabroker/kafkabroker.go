// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package kafkabroker implements the storage driver contract on a Kafka
// topic. Events are produced with the envelope id as the message key and
// consumed through a consumer group; offsets are committed only after the
// local handlers have run, giving at-least-once delivery. The per-agent read
// model is a process-local mirror populated on every write.
package kafkabroker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/storage/memstate"
)

// Config holds Kafka driver configuration.
type Config struct {
	// Brokers is a comma-separated broker list.
	Brokers string `koanf:"brokers"`

	// Topic carries the event envelopes.
	Topic string `koanf:"topic"`

	// GroupID is the consumer group for the subscribe side.
	GroupID string `koanf:"group_id"`

	// BatchTimeout bounds producer batching latency.
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

// DefaultConfig returns a config suitable for a local broker.
func DefaultConfig() Config {
	return Config{
		Brokers:      "localhost:9092",
		Topic:        "fleettrace.events",
		GroupID:      "fleettrace",
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Driver is the Kafka storage backend.
type Driver struct {
	cfg    Config
	log    zerolog.Logger
	state  *memstate.Store
	fanout *memstate.Fanout

	breaker *gobreaker.CircuitBreaker[any]

	mu        sync.Mutex
	writer    *kafka.Writer
	reader    *kafka.Reader
	subCancel context.CancelFunc
	subDone   chan struct{}
	connected bool
}

var _ storage.Driver = (*Driver)(nil)

// New creates a Kafka driver. Connect builds the producer.
func New(cfg Config) *Driver {
	if cfg.Topic == "" {
		cfg.Topic = "fleettrace.events"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "fleettrace"
	}
	log := logging.With().Str("component", "storage.kafkabroker").Logger()

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "kafka-publish",
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

// Connect builds the Kafka producer.
func (d *Driver) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	d.writer = &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(d.cfg.Brokers, ",")...),
		Topic:        d.cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: d.cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	d.connected = true
	return nil
}

// Close stops the consumer loop and the producer. Idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false

	d.stopSubscriberLocked()
	d.fanout.Unsubscribe()

	var errs []error
	if err := d.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}

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

// PublishEvent produces the envelope to the topic through the circuit
// breaker. The envelope id keys the message so an agent's events preserve
// partition order when callers use agent-scoped ids.
func (d *Driver) PublishEvent(ctx context.Context, env *events.Envelope) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return storage.ErrClosed
	}
	w := d.writer
	d.mu.Unlock()

	data, err := events.Marshal(env)
	if err != nil {
		return err
	}

	_, err = d.breaker.Execute(func() (any, error) {
		return nil, w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(env.EventID),
			Value: data,
		})
	})
	if err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(env.Type).Inc()
	return nil
}

// SubscribeEvents registers the handler and, on first subscription, starts a
// consumer-group reader.
func (d *Driver) SubscribeEvents(handler events.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return storage.ErrClosed
	}

	d.fanout.Subscribe(handler)
	if d.reader != nil {
		return nil
	}

	d.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(d.cfg.Brokers, ","),
		Topic:    d.cfg.Topic,
		GroupID:  d.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.subCancel = cancel
	d.subDone = make(chan struct{})
	go d.consume(ctx, d.reader, d.subDone)
	return nil
}

// UnsubscribeEvents stops the reader and drops all handlers. Idempotent.
func (d *Driver) UnsubscribeEvents() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopSubscriberLocked()
	d.fanout.Unsubscribe()
	return nil
}

func (d *Driver) stopSubscriberLocked() {
	if d.reader == nil {
		return
	}
	d.subCancel()
	if err := d.reader.Close(); err != nil {
		d.log.Error().Err(err).Msg("close reader")
	}
	<-d.subDone
	d.reader = nil
	d.subCancel = nil
	d.subDone = nil
}

// consume fetches, dispatches, then commits. A message is acknowledged only
// after every local handler has seen it.
func (d *Driver) consume(ctx context.Context, r *kafka.Reader, done chan struct{}) {
	defer close(done)
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				d.log.Error().Err(err).Msg("fetch message")
			}
			return
		}

		env, err := events.Unmarshal(msg.Value)
		if err != nil {
			d.log.Error().Err(err).Int64("offset", msg.Offset).Msg("dropping undecodable event")
		} else {
			d.fanout.Dispatch(env)
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() == nil {
				d.log.Error().Err(err).Msg("commit offset")
			}
			return
		}
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
