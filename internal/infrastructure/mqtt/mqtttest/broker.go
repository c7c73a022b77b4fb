// Package mqtttest provides an in-process MQTT broker for tests.
//
// Broker has the same Publish/Subscribe/Unsubscribe method set as
// mqtt.Client, delivers messages synchronously to every matching
// subscription and keeps retained messages, so components that depend on
// a narrow bus interface can be tested without a running Mosquitto.
package mqtttest

import (
	"sync"

	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt"
)

// Message is a published message as recorded by the Broker.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Broker is a synchronous in-memory broker. The zero value is ready to use.
type Broker struct {
	mu        sync.Mutex
	subs      map[string]mqtt.MessageHandler
	retained  map[string][]byte
	published []Message

	// PublishErr, when set, is returned from every Publish call.
	PublishErr error
	// OnPublish, when set, runs after delivery for every published message.
	// Tests use it to script gateway replies.
	OnPublish func(b *Broker, msg Message)
}

// Publish records the message and delivers it to matching subscribers.
// Retained messages with an empty payload clear the retained slot.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	if b.PublishErr != nil {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos, Retained: retained}
	b.published = append(b.published, msg)
	if retained {
		if b.retained == nil {
			b.retained = make(map[string][]byte)
		}
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = msg.Payload
		}
	}
	handlers := b.matching(topic)
	onPublish := b.OnPublish
	b.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, msg.Payload) //nolint:errcheck // mirrors mqtt.Client, which only logs handler errors
	}
	if onPublish != nil {
		onPublish(b, msg)
	}
	return nil
}

// Deliver injects a message as if another client had published it,
// without recording it in Published.
func (b *Broker) Deliver(topic string, payload []byte) {
	b.mu.Lock()
	handlers := b.matching(topic)
	b.mu.Unlock()
	for _, h := range handlers {
		_ = h(topic, payload) //nolint:errcheck // see Publish
	}
}

// Subscribe registers handler for filter, replacing any previous handler.
// Retained messages matching the filter are delivered immediately.
func (b *Broker) Subscribe(filter string, _ byte, handler mqtt.MessageHandler) error {
	if filter == "" {
		return mqtt.ErrInvalidTopic
	}
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[string]mqtt.MessageHandler)
	}
	b.subs[filter] = handler
	var replay []Message
	for topic, payload := range b.retained {
		if mqtt.Match(filter, topic) {
			replay = append(replay, Message{Topic: topic, Payload: payload})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		_ = handler(m.Topic, m.Payload) //nolint:errcheck // see Publish
	}
	return nil
}

// Unsubscribe removes the handler for filter.
func (b *Broker) Unsubscribe(filter string) error {
	if filter == "" {
		return mqtt.ErrInvalidTopic
	}
	b.mu.Lock()
	delete(b.subs, filter)
	b.mu.Unlock()
	return nil
}

// Published returns a copy of every message published so far.
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// PublishedTo returns the messages published to exactly topic.
func (b *Broker) PublishedTo(topic string) []Message {
	var out []Message
	for _, m := range b.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Retained returns the retained payload for topic, if any.
func (b *Broker) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return p, ok
}

// HasSubscription reports whether filter is currently subscribed.
func (b *Broker) HasSubscription(filter string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[filter]
	return ok
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Broker) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) matching(topic string) []mqtt.MessageHandler {
	var out []mqtt.MessageHandler
	for filter, h := range b.subs {
		if mqtt.Match(filter, topic) {
			out = append(out, h)
		}
	}
	return out
}
