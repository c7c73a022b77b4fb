package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt"
	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/selection"
)

// Bus is the subset of the MQTT client the bridge uses.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Telemetry receives time-series data. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteEnergyReport(gatewaySerial, deviceKey string, energy float64, at time.Time)
	WriteOnlineStatus(gatewaySerial, itemKey string, online bool, at time.Time)
}

// Broadcaster relays events to WebSocket clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// ChannelNotification is the WebSocket channel notifications are
// broadcast on.
const ChannelNotification = "gateway.notification"

// Handler receives notifications for one item. Handlers run on the MQTT
// delivery goroutine and must not block.
type Handler func(n Notification)

// Logger defines the logging interface for the bridge.
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

// Options holds the optional sinks of a Bridge.
type Options struct {
	QoS         byte
	Telemetry   Telemetry
	Broadcaster Broadcaster
	Metrics     *Metrics
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bridge forwards gateway push notifications for selected items.
type Bridge struct {
	bus    Bus
	store  selection.Store
	opts   Options
	topics mqtt.Topics
	logger Logger
	now    func() time.Time

	mu       sync.RWMutex
	selected map[string]inventory.KeySet
	handlers map[inventory.Key][]subscription
	nextID   uint64
}

// New creates a bridge. Gateways are activated with Activate or ActivateAll.
func New(bus Bus, store selection.Store, opts Options) *Bridge {
	return &Bridge{
		bus:      bus,
		store:    store,
		opts:     opts,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
		selected: make(map[string]inventory.KeySet),
		handlers: make(map[inventory.Key][]subscription),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Subscribe registers h for notifications about key. The returned function
// removes the registration and is safe to call more than once.
func (b *Bridge) Subscribe(key inventory.Key, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[key] = append(b.handlers[key], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[key]
			for i, s := range subs {
				if s.id == id {
					subs = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(subs) == 0 {
				delete(b.handlers, key)
			} else {
				b.handlers[key] = subs
			}
		})
	}
}

// Activate loads the gateway's selection record and subscribes to its
// notifications. Activating an active gateway reloads the selection.
func (b *Bridge) Activate(ctx context.Context, serial string) error {
	rec, err := b.store.Load(ctx, serial)
	if err != nil {
		return fmt.Errorf("loading selection for %s: %w", serial, err)
	}

	b.mu.Lock()
	_, active := b.selected[serial]
	b.selected[serial] = rec.Selected.Clone()
	count := len(b.selected)
	b.mu.Unlock()

	if !active {
		topic := b.topics.AllGatewayEvents(serial)
		if err := b.bus.Subscribe(topic, b.opts.QoS, b.handleMessage); err != nil {
			b.mu.Lock()
			delete(b.selected, serial)
			count = len(b.selected)
			b.mu.Unlock()
			b.opts.Metrics.setGateways(count)
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	b.opts.Metrics.setGateways(count)

	b.logger.Info("gateway activated", "gateway", serial, "selected", len(rec.Selected), "reload", active)
	return nil
}

// ActivateAll activates every configured gateway. Failures are joined; the
// remaining gateways are still activated.
func (b *Bridge) ActivateAll(ctx context.Context) error {
	records, err := b.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing selections: %w", err)
	}
	var errs []error
	for _, rec := range records {
		if err := b.Activate(ctx, rec.GatewaySerial); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deactivate unsubscribes from a gateway's notifications.
func (b *Bridge) Deactivate(serial string) error {
	b.mu.Lock()
	_, active := b.selected[serial]
	delete(b.selected, serial)
	count := len(b.selected)
	b.mu.Unlock()

	if !active {
		return fmt.Errorf("%w: %s", ErrNotActive, serial)
	}
	b.opts.Metrics.setGateways(count)

	if err := b.bus.Unsubscribe(b.topics.AllGatewayEvents(serial)); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", serial, err)
	}
	b.logger.Info("gateway deactivated", "gateway", serial)
	return nil
}

// Stop deactivates every gateway.
func (b *Bridge) Stop() {
	for _, serial := range b.Active() {
		if err := b.Deactivate(serial); err != nil && !errors.Is(err, ErrNotActive) {
			b.logger.Warn("deactivating gateway failed", "gateway", serial, "error", err)
		}
	}
}

// Active returns the serials of the active gateways.
func (b *Bridge) Active() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.selected))
	for sn := range b.selected {
		out = append(out, sn)
	}
	return out
}

// Apply implements flow.Materializer by reactivating the gateway, so a
// changed selection takes effect as soon as it is persisted.
func (b *Bridge) Apply(ctx context.Context, update flow.HostUpdate) error {
	return b.Activate(ctx, update.Gateway.GatewaySerial)
}

// Remove implements flow.Materializer.
func (b *Bridge) Remove(_ context.Context, serial string) error {
	if err := b.Deactivate(serial); err != nil && !errors.Is(err, ErrNotActive) {
		return err
	}
	return nil
}

// handleMessage never returns an error: bad payloads from a gateway must
// not disturb the MQTT client.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	serial, event, ok := mqtt.ParseGatewayEvent(topic)
	if !ok {
		b.logger.Warn("notification on unexpected topic", "topic", topic)
		b.opts.Metrics.notificationDropped(dropMalformed)
		return nil
	}

	n, err := parse(serial, Event(event), payload, b.now())
	if err != nil {
		b.logger.Warn("dropping malformed notification", "gateway", serial, "event", event, "error", err)
		b.opts.Metrics.notificationDropped(dropMalformed)
		return nil
	}

	b.mu.RLock()
	selected := b.selected[serial].Has(n.Key)
	subs := append([]subscription(nil), b.handlers[n.Key]...)
	b.mu.RUnlock()

	if !selected {
		b.logger.Debug("dropping notification for unselected item", "key", n.Key.String(), "event", event)
		b.opts.Metrics.notificationDropped(dropUnselected)
		return nil
	}

	b.record(n)
	for _, s := range subs {
		s.handler(n)
	}
	b.opts.Metrics.notificationForwarded(n.Event)
	return nil
}

// record writes telemetry and relays the notification to WebSocket clients.
func (b *Bridge) record(n Notification) {
	if t := b.opts.Telemetry; t != nil {
		switch n.Event {
		case EventReportEnergy:
			if energy, err := n.Energy(); err == nil {
				t.WriteEnergyReport(n.Key.GatewaySerial, n.Key.String(), energy, n.ReceivedAt)
			} else {
				b.logger.Debug("energy report not recorded", "key", n.Key.String(), "error", err)
			}
		case EventOnlineStatus:
			if online, err := n.Online(); err == nil {
				t.WriteOnlineStatus(n.Key.GatewaySerial, n.Key.String(), online, n.ReceivedAt)
			} else {
				b.logger.Debug("online status not recorded", "key", n.Key.String(), "error", err)
			}
		}
	}
	if bc := b.opts.Broadcaster; bc != nil {
		bc.Broadcast(ChannelNotification, n)
	}
}
