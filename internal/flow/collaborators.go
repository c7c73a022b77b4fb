package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/dali-center/internal/inventory"
)

// Candidate is a gateway that answered a scan.
type Candidate struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	TLS    bool   `json:"tls,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Label renders the candidate as "Name (serial)".
func (c Candidate) Label() string {
	name := c.Name
	if name == "" {
		name = "Unnamed"
	}
	return fmt.Sprintf("%s (%s)", name, c.Serial)
}

// Item converts the candidate to its gateway inventory item.
func (c Candidate) Item() inventory.Item {
	return inventory.Item{
		Kind:          inventory.KindGateway,
		ID:            c.Serial,
		GatewaySerial: c.Serial,
		DisplayName:   c.Name,
		TypeInfo: inventory.TypeInfo{Gateway: &inventory.GatewayInfo{
			Host:  c.Host,
			Port:  c.Port,
			TLS:   c.TLS,
			Model: c.Model,
		}},
		Online: true,
	}
}

// CandidateFromItem converts a stored gateway item back into a candidate.
func CandidateFromItem(it inventory.Item) Candidate {
	c := Candidate{Serial: it.GatewaySerial, Name: it.DisplayName}
	if gi := it.TypeInfo.Gateway; gi != nil {
		c.Host, c.Port, c.TLS, c.Model = gi.Host, gi.Port, gi.TLS, gi.Model
	}
	return c
}

// Scanner finds gateways on the network.
//
// Scan returns the gateways that answered before ctx was done. When serials
// are given, only those gateways are reported and Scan may return as soon
// as all of them have answered. Running out of time is not an error: the
// partial result is returned with a nil error or with ctx.Err().
type Scanner interface {
	Scan(ctx context.Context, serials ...string) ([]Candidate, error)
}

// Connector opens a session with a gateway.
type Connector interface {
	Connect(ctx context.Context, c Candidate) (Connection, error)
}

// Connection is an open gateway session.
type Connection interface {
	// FetchInventory returns the complete inventory. A partial inventory
	// must be reported as an error.
	FetchInventory(ctx context.Context) ([]inventory.Item, error)
	Close() error
}

// HostUpdate tells the host which entities to create, update and remove
// after a selection was persisted.
type HostUpdate struct {
	Gateway inventory.Item `json:"gateway"`

	// Entities is the complete selected set after the update.
	Entities []inventory.Item `json:"entities"`

	Created []inventory.Item `json:"created"`
	Updated []inventory.Item `json:"updated"`
	Removed []inventory.Key  `json:"removed"`
}

// Materializer creates host entities for a persisted selection.
type Materializer interface {
	Apply(ctx context.Context, update HostUpdate) error
	Remove(ctx context.Context, gatewaySerial string) error
}

// Materializers fans one update out to several materializers. Every
// materializer is called; their errors are joined.
type Materializers []Materializer

// Apply implements Materializer.
func (ms Materializers) Apply(ctx context.Context, update HostUpdate) error {
	var errs []error
	for _, m := range ms {
		if err := m.Apply(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove implements Materializer.
func (ms Materializers) Remove(ctx context.Context, gatewaySerial string) error {
	var errs []error
	for _, m := range ms {
		if err := m.Remove(ctx, gatewaySerial); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observer is notified of every flow transition. Observers run while the
// flow is locked and must not call back into it.
type Observer interface {
	FlowChanged(ctx context.Context, snap Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, snap Snapshot)

// FlowChanged implements Observer.
func (f ObserverFunc) FlowChanged(ctx context.Context, snap Snapshot) {
	f(ctx, snap)
}

// Logger defines the logging interface used by flows.
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
