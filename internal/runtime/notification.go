package runtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt"
	"github.com/nerrad567/dali-center/internal/inventory"
)

// Event is the kind of push notification.
type Event string

// Events pushed by gateways.
const (
	EventOnlineStatus Event = mqtt.EventOnlineStatus
	EventDevStatus    Event = mqtt.EventDevStatus
	EventReportEnergy Event = mqtt.EventReportEnergy
	EventSensorOnOff  Event = mqtt.EventSensorOnOff
)

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventOnlineStatus, EventDevStatus, EventReportEnergy, EventSensorOnOff:
		return true
	default:
		return false
	}
}

// envelope is the wire format of a gateway push notification:
//
//	{"id": "7", "kind": "device", "data": {"energy": 12.5}}
//
// kind defaults to device.
type envelope struct {
	ID   string          `json:"id"`
	Kind inventory.Kind  `json:"kind,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Notification is one push notification for one selected item.
type Notification struct {
	Key        inventory.Key   `json:"key"`
	Event      Event           `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Property is one datapoint of a dev_status notification.
type Property struct {
	DPID  int             `json:"dpid"`
	Value json.RawMessage `json:"value"`
}

// Online decodes an online_status payload.
func (n Notification) Online() (bool, error) {
	var p struct {
		Online *bool `json:"online"`
	}
	if err := n.decode(EventOnlineStatus, &p); err != nil {
		return false, err
	}
	if p.Online == nil {
		return false, fmt.Errorf("%w: online_status without online", ErrInvalidNotification)
	}
	return *p.Online, nil
}

// Energy decodes a report_energy payload.
func (n Notification) Energy() (float64, error) {
	var p struct {
		Energy *float64 `json:"energy"`
	}
	if err := n.decode(EventReportEnergy, &p); err != nil {
		return 0, err
	}
	if p.Energy == nil {
		return 0, fmt.Errorf("%w: report_energy without energy", ErrInvalidNotification)
	}
	return *p.Energy, nil
}

// Properties decodes a dev_status payload.
func (n Notification) Properties() ([]Property, error) {
	var p struct {
		Properties []Property `json:"properties"`
	}
	if err := n.decode(EventDevStatus, &p); err != nil {
		return nil, err
	}
	return p.Properties, nil
}

// SensorOn decodes a sensor_on_off payload.
func (n Notification) SensorOn() (bool, error) {
	var p struct {
		On *bool `json:"on"`
	}
	if err := n.decode(EventSensorOnOff, &p); err != nil {
		return false, err
	}
	if p.On == nil {
		return false, fmt.Errorf("%w: sensor_on_off without on", ErrInvalidNotification)
	}
	return *p.On, nil
}

func (n Notification) decode(want Event, v any) error {
	if n.Event != want {
		return fmt.Errorf("%w: %s is not %s", ErrInvalidNotification, n.Event, want)
	}
	if err := json.Unmarshal(n.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidNotification, want, err)
	}
	return nil
}

// parse decodes a raw push message received on a gateway event topic.
func parse(serial string, event Event, raw []byte, at time.Time) (Notification, error) {
	if !event.Valid() {
		return Notification{}, fmt.Errorf("%w: unknown event %q", ErrInvalidNotification, event)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	if env.ID == "" {
		return Notification{}, fmt.Errorf("%w: missing id", ErrInvalidNotification)
	}
	if env.Kind == "" {
		env.Kind = inventory.KindDevice
	}
	if !env.Kind.Valid() || env.Kind == inventory.KindGateway {
		return Notification{}, fmt.Errorf("%w: kind %q", ErrInvalidNotification, env.Kind)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Notification{}, fmt.Errorf("%w: missing data", ErrInvalidNotification)
	}
	return Notification{
		Key:        inventory.Key{GatewaySerial: serial, Kind: env.Kind, ID: env.ID},
		Event:      event,
		Payload:    env.Data,
		ReceivedAt: at,
	}, nil
}
