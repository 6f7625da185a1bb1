// Fleettrace - Real-Time Fleet Presence and Geofence Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleettrace

// Package badgerdb implements the storage driver contract on BadgerDB with a
// Watermill GoChannel pub/sub for event delivery. Agent records survive
// restarts; events are delivered at-most-once to in-process subscribers.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/fleettrace/events"
	"github.com/tomtom215/fleettrace/logging"
	"github.com/tomtom215/fleettrace/metrics"
	"github.com/tomtom215/fleettrace/model"
	"github.com/tomtom215/fleettrace/storage"
	"github.com/tomtom215/fleettrace/storage/memstate"
	"github.com/tomtom215/fleettrace/storage/wmlog"
)

// Key prefixes for agent records.
const (
	locationKeyPrefix = "location:"
	statusKeyPrefix   = "status:"
	stateKeyPrefix    = "state:"
	statsKeyPrefix    = "stats:"
)

// eventsTopic is the GoChannel topic carrying event envelopes.
const eventsTopic = "fleettrace.events"

// Config holds BadgerDB driver configuration.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory runs Badger without disk persistence (tests, ephemeral use).
	InMemory bool `koanf:"in_memory"`
}

// statusRecord is the stored form of a status write.
type statusRecord struct {
	Status    model.AgentStatus `json:"status"`
	Timestamp int64             `json:"timestamp"`
}

// Driver is the BadgerDB + GoChannel storage backend.
type Driver struct {
	cfg    Config
	log    zerolog.Logger
	fanout *memstate.Fanout

	mu        sync.Mutex
	db        *badger.DB
	pubsub    *gochannel.GoChannel
	subCancel context.CancelFunc
	subDone   chan struct{}
	connected bool
}

var _ storage.Driver = (*Driver)(nil)

// New creates a BadgerDB driver. Connect opens the database.
func New(cfg Config) *Driver {
	log := logging.With().Str("component", "storage.badgerdb").Logger()
	return &Driver{
		cfg:    cfg,
		log:    log,
		fanout: memstate.NewFanout(log),
	}
}

// Connect opens the database and the in-process pub/sub.
func (d *Driver) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	opts := badger.DefaultOptions(d.cfg.Path).WithLogger(nil)
	if d.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger at %q: %w", d.cfg.Path, err)
	}

	d.db = db
	d.pubsub = gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		wmlog.New(d.log),
	)
	d.connected = true
	return nil
}

// Close stops the subscriber loop, closes the pub/sub, and closes the
// database. Idempotent.
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
	if err := d.pubsub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pubsub: %w", err))
	}
	if err := d.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close badger: %w", err))
	}
	return errors.Join(errs...)
}

func (d *Driver) handle() (*badger.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, storage.ErrClosed
	}
	return d.db, nil
}

func (d *Driver) SaveLocation(_ context.Context, agentID string, sample *model.LocationSample) error {
	db, err := d.handle()
	if err != nil {
		return err
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	return db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(locationKeyPrefix+agentID), data); err != nil {
			return fmt.Errorf("set location: %w", err)
		}

		// Stats advance in the same transaction as the location write.
		stats := &model.AgentStats{AgentID: agentID}
		item, err := txn.Get([]byte(statsKeyPrefix + agentID))
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, stats)
			}); err != nil {
				return fmt.Errorf("read stats: %w", err)
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			// first sample for this agent
		default:
			return fmt.Errorf("get stats: %w", err)
		}

		stats.TotalLocations++
		stats.TotalDistance += sample.DistanceDelta
		stats.LastUpdate = sample.Timestamp

		statsData, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		if err := txn.Set([]byte(statsKeyPrefix+agentID), statsData); err != nil {
			return fmt.Errorf("set stats: %w", err)
		}
		return nil
	})
}

func (d *Driver) LastLocation(_ context.Context, agentID string) (*model.LocationSample, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}

	var sample model.LocationSample
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(locationKeyPrefix + agentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get location: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sample)
		})
	})
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

func (d *Driver) SaveStatus(_ context.Context, agentID string, status model.AgentStatus, tsMs int64) error {
	db, err := d.handle()
	if err != nil {
		return err
	}

	data, err := json.Marshal(statusRecord{Status: status, Timestamp: tsMs})
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(statusKeyPrefix+agentID), data)
	})
}

func (d *Driver) Status(_ context.Context, agentID string) (model.AgentStatus, error) {
	db, err := d.handle()
	if err != nil {
		return "", err
	}

	var rec statusRecord
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(statusKeyPrefix + agentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func (d *Driver) SaveAgentState(_ context.Context, state *model.AgentState) error {
	db, err := d.handle()
	if err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKeyPrefix+state.AgentID), data)
	})
}

func (d *Driver) AgentState(_ context.Context, agentID string) (*model.AgentState, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}

	var state model.AgentState
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKeyPrefix + agentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get state: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (d *Driver) Agents(_ context.Context) ([]string, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	err = db.View(func(txn *badger.Txn) error {
		for _, prefix := range []string{locationKeyPrefix, statusKeyPrefix, stateKeyPrefix, statsKeyPrefix} {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
			for it.Rewind(); it.Valid(); it.Next() {
				seen[string(it.Item().Key()[len(prefix):])] = struct{}{}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan agents: %w", err)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

// PublishEvent publishes the envelope to the GoChannel topic. Events are
// delivered to subscribers via the local subscription loop.
func (d *Driver) PublishEvent(_ context.Context, env *events.Envelope) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return storage.ErrClosed
	}
	ps := d.pubsub
	d.mu.Unlock()

	data, err := events.Marshal(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(env.EventID, data)
	if err := ps.Publish(eventsTopic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(env.Type).Inc()
	return nil
}

// SubscribeEvents registers the handler and, on first subscription, starts
// the GoChannel consumption loop.
func (d *Driver) SubscribeEvents(handler events.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return storage.ErrClosed
	}

	d.fanout.Subscribe(handler)
	if d.subCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.pubsub.Subscribe(ctx, eventsTopic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe events: %w", err)
	}

	d.subCancel = cancel
	d.subDone = make(chan struct{})
	go d.consume(ch, d.subDone)
	return nil
}

// UnsubscribeEvents stops the consumption loop and drops all handlers.
// Idempotent.
func (d *Driver) UnsubscribeEvents() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopSubscriberLocked()
	d.fanout.Unsubscribe()
	return nil
}

func (d *Driver) stopSubscriberLocked() {
	if d.subCancel == nil {
		return
	}
	d.subCancel()
	<-d.subDone
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
	db, err := d.handle()
	if err != nil {
		return nil, err
	}

	var stats model.AgentStats
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(statsKeyPrefix + agentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stats)
		})
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (d *Driver) ClearAgentData(_ context.Context, agentID string) error {
	db, err := d.handle()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		for _, prefix := range []string{locationKeyPrefix, statusKeyPrefix, stateKeyPrefix, statsKeyPrefix} {
			if err := txn.Delete([]byte(prefix + agentID)); err != nil {
				return fmt.Errorf("delete %s%s: %w", prefix, agentID, err)
			}
		}
		return nil
	})
}
