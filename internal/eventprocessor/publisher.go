// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package eventprocessor

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"

	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/metrics"
)

// Publisher publishes feed events to NATS JetStream.
type Publisher struct {
	publisher  message.Publisher
	serializer *Serializer
	breaker    *gobreaker.CircuitBreaker[interface{}]

	mu     sync.Mutex
	closed bool
}

// NewPublisher connects to NATS and creates a JetStream publisher.
//
// Stream provisioning is left to the StreamManager; the publisher only
// writes into the already-provisioned stream.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	wmPublisher, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:       cfg.URL,
		Marshaler: &wmNats.NATSMarshaler{},
		NatsOptions: []natsgo.Option{
			natsgo.Timeout(cfg.ConnectTimeout),
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
		},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // the stream is pre-created by StreamManager
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(cfg.MaxRetries),
				natsgo.RetryWait(cfg.RetryDelay),
			},
		},
	}, NewWatermillLogger())
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	p := &Publisher{
		publisher:  wmPublisher,
		serializer: NewSerializer(),
	}
	if cfg.CircuitBreaker != nil {
		p.breaker = newCircuitBreaker("nats-publisher", *cfg.CircuitBreaker)
	}
	return p, nil
}

// PublishEvent serializes the event and publishes it to its topic.
func (p *Publisher) PublishEvent(event *FeedEvent) error {
	msg, err := p.serializer.Marshal(event)
	if err != nil {
		metrics.RecordNATSPublish(err)
		return err
	}
	return p.Publish(event.Topic(), msg)
}

// Publish sends pre-built messages to a topic. The message UUID doubles as
// the JetStream deduplication ID.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.Unlock()

	for _, msg := range messages {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	var err error
	if p.breaker != nil {
		_, err = p.breaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(topic, messages...)
		})
	} else {
		err = p.publisher.Publish(topic, messages...)
	}

	metrics.RecordNATSPublish(err)
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to publish messages")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// WatermillPublisher exposes the underlying publisher for router middleware
// such as the poison queue.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}

// Close shuts down the publisher. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
