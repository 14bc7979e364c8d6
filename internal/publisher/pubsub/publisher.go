// Package pubsub implements a Google Cloud Pub/Sub catalog event publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

// EventAttribute carries the catalog event name on every message.
const EventAttribute = "event"

// Publisher sends JSON payloads to a single Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Dial opens a client for projectID and binds the named topic.
func Dial(ctx context.Context, projectID, topicID string) (*Publisher, *pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client.Topic(topicID)), client, nil
}

// Publish marshals payload to JSON and publishes it with the event name as an attribute.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{EventAttribute: event}}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event, err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// attributeCarrier implements propagation.TextMapCarrier for message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
