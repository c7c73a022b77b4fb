package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt"
	"github.com/nerrad567/dali-center/internal/selection"
)

// EventEntitiesChanged is the core event type and WebSocket channel of
// change events.
const EventEntitiesChanged = "entities_changed"

// Bus is the subset of the MQTT client the publisher uses.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Broadcaster relays events to WebSocket clients.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface for the publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher implements flow.Materializer on the MQTT bus.
type Publisher struct {
	bus         Bus
	qos         byte
	broadcaster Broadcaster
	topics      mqtt.Topics
	logger      Logger
	now         func() time.Time
}

// New creates a publisher. broadcaster may be nil.
func New(bus Bus, qos byte, broadcaster Broadcaster) *Publisher {
	return &Publisher{
		bus:         bus,
		qos:         qos,
		broadcaster: broadcaster,
		logger:      noopLogger{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Apply publishes the manifest for the update's complete entity set, then
// the change event.
func (p *Publisher) Apply(_ context.Context, update flow.HostUpdate) error {
	serial := update.Gateway.GatewaySerial
	if serial == "" {
		return errors.New("host: update without gateway serial")
	}
	now := p.now()

	if err := p.publishManifest(serial, Manifest{
		GatewaySerial: serial,
		Gateway:       EntityOf(update.Gateway),
		Entities:      entitiesOf(update.Entities),
		UpdatedAt:     now,
	}); err != nil {
		return err
	}

	ev := ChangeEvent{
		GatewaySerial: serial,
		Created:       itemIDs(update.Created),
		Updated:       itemIDs(update.Updated),
		Removed:       keyIDs(update.Removed),
		Timestamp:     now,
	}
	if err := p.publishEvent(ev); err != nil {
		return err
	}

	p.logger.Info("host entities updated",
		"gateway", serial,
		"entities", len(update.Entities),
		"created", len(ev.Created),
		"updated", len(ev.Updated),
		"removed", len(ev.Removed),
	)
	return nil
}

// Remove clears the gateway's retained manifest and announces the removal.
func (p *Publisher) Remove(_ context.Context, serial string) error {
	if err := p.bus.Publish(p.topics.CoreEntities(serial), nil, p.qos, true); err != nil {
		return fmt.Errorf("clearing manifest for %s: %w", serial, err)
	}
	if err := p.publishEvent(ChangeEvent{
		GatewaySerial:  serial,
		Created:        []string{},
		Updated:        []string{},
		Removed:        []string{},
		GatewayRemoved: true,
		Timestamp:      p.now(),
	}); err != nil {
		return err
	}
	p.logger.Info("host entities removed", "gateway", serial)
	return nil
}

// Republish publishes the manifest of every stored record without change
// events. It runs at startup so manifests missed after a failed Apply are
// restored.
func (p *Publisher) Republish(ctx context.Context, store selection.Store) error {
	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing selections: %w", err)
	}
	var errs []error
	for _, rec := range records {
		err := p.publishManifest(rec.GatewaySerial, Manifest{
			GatewaySerial: rec.GatewaySerial,
			Gateway:       EntityOf(rec.Gateway),
			Entities:      entitiesOf(rec.SelectedItems()),
			UpdatedAt:     rec.UpdatedAt,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Debug("manifests republished", "gateways", len(records), "failed", len(errs))
	return errors.Join(errs...)
}

func (p *Publisher) publishManifest(serial string, m Manifest) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshalling manifest for %s: %w", serial, err)
	}
	if err := p.bus.Publish(p.topics.CoreEntities(serial), payload, p.qos, true); err != nil {
		return fmt.Errorf("publishing manifest for %s: %w", serial, err)
	}
	return nil
}

func (p *Publisher) publishEvent(ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling change event: %w", err)
	}
	if err := p.bus.Publish(p.topics.CoreEvent(EventEntitiesChanged), payload, p.qos, false); err != nil {
		return fmt.Errorf("publishing change event: %w", err)
	}
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(EventEntitiesChanged, ev)
	}
	return nil
}
