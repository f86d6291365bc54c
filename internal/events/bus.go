// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package events carries incident state changes from the rule engine to the
// notification dispatcher.
//
// The bus is a hint, not the source of truth: the notification_events table
// is. A lost message only delays delivery until the next scheduled run.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/sentinel/internal/config"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/metrics"
	"github.com/tomtom215/sentinel/internal/models"
)

// Backends.
const (
	BackendGoChannel = "gochannel"
	BackendNATS      = "nats"
)

// DefaultTopic is used when the config leaves the topic empty.
const DefaultTopic = "sentinel.incidents"

// IncidentChanged is the message body.
type IncidentChanged struct {
	Kind       models.EventKind `json:"kind"`
	EventID    int64            `json:"eventId"`
	IncidentID int64            `json:"incidentId"`
	RuleID     int64            `json:"ruleId"`
	OrgID      string           `json:"orgId"`
	ServiceID  string           `json:"serviceId"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// Publisher publishes incident changes. The rule engine depends on this
// rather than on Bus.
type Publisher interface {
	PublishIncident(ctx context.Context, ev IncidentChanged) error
}

// Bus is a watermill publisher/subscriber pair on one topic.
type Bus struct {
	pub   message.Publisher
	sub   message.Subscriber
	topic string

	mu     sync.RWMutex
	closed bool
}

// NewBus builds the backend selected by cfg.
func NewBus(cfg config.EventsConfig) (*Bus, error) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	switch cfg.Backend {
	case "", BackendGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &Bus{pub: ch, sub: ch, topic: topic}, nil
	case BackendNATS:
		return newNATSBus(cfg.NATSURL, topic, logger)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

func newNATSBus(url, topic string, logger watermill.LoggerAdapter) (*Bus, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name("sentinel"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	// One queue group across instances so a change triggers one dispatcher.
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "sentinel-dispatch",
		SubscribersCount: 1,
		CloseTimeout:     10 * time.Second,
		AckWaitTimeout:   30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}

	return &Bus{pub: pub, sub: sub, topic: topic}, nil
}

// NewBusFrom wraps an existing publisher and subscriber.
func NewBusFrom(pub message.Publisher, sub message.Subscriber, topic string) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Bus{pub: pub, sub: sub, topic: topic}
}

// Topic returns the bus topic.
func (b *Bus) Topic() string { return b.topic }

// PublishIncident implements Publisher.
func (b *Bus) PublishIncident(_ context.Context, ev IncidentChanged) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		metrics.EventsPublished.WithLabelValues("closed").Inc()
		return errors.New("event bus is closed")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode incident event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("org_id", ev.OrgID)

	if err := b.pub.Publish(b.topic, msg); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish incident event: %w", err)
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe returns the message stream for the bus topic.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.sub.Subscribe(ctx, b.topic)
}

// Close shuts down both halves. Closing twice is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.pub.Close()
	// gochannel uses one value for both halves.
	if pub, ok := b.sub.(message.Publisher); !ok || pub != b.pub {
		err = errors.Join(err, b.sub.Close())
	}
	return err
}

// Decode parses a bus message.
func Decode(msg *message.Message) (IncidentChanged, error) {
	var ev IncidentChanged
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decode incident event %s: %w", msg.UUID, err)
	}
	return ev, nil
}
