package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt"
	"github.com/nerrad567/dali-center/internal/inventory"
)

// Bus is the subset of the MQTT client the gateway client uses.
// *mqtt.Client and *mqtttest.Broker satisfy it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface for the gateway client.
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

// Config contains gateway client settings.
type Config struct {
	QoS byte

	// RequestTimeout bounds each request unless the caller's context has an
	// earlier deadline.
	RequestTimeout time.Duration
}

// Client implements flow.Scanner and flow.Connector over MQTT.
type Client struct {
	bus    Bus
	cfg    Config
	topics mqtt.Topics
	logger Logger
	newID  func() string
	now    func() time.Time

	mu      sync.Mutex
	started bool
	scans   map[string]*scan
	pending map[string]chan ResponseMessage
}

// New creates a gateway client. Call Start before use.
func New(bus Bus, cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		bus:     bus,
		cfg:     cfg,
		logger:  noopLogger{},
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
		scans:   make(map[string]*scan),
		pending: make(map[string]chan ResponseMessage),
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Start subscribes to the announcement and response topics.
func (c *Client) Start() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		return nil
	}

	// Subscribing may replay retained messages into the handlers, which
	// take c.mu.
	if err := c.bus.Subscribe(c.topics.DiscoveryAnnounce(), c.cfg.QoS, c.handleAnnouncement); err != nil {
		return fmt.Errorf("subscribe to announcements: %w", err)
	}
	if err := c.bus.Subscribe(c.topics.AllResponses(), c.cfg.QoS, c.handleResponse); err != nil {
		_ = c.bus.Unsubscribe(c.topics.DiscoveryAnnounce()) //nolint:errcheck // best-effort rollback
		return fmt.Errorf("subscribe to responses: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Stop unsubscribes. Requests in progress run into their timeouts.
func (c *Client) Stop() {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return
	}
	for _, topic := range []string{c.topics.DiscoveryAnnounce(), c.topics.AllResponses()} {
		if err := c.bus.Unsubscribe(topic); err != nil {
			c.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// scan collects announcements for one Scan call.
type scan struct {
	mu      sync.Mutex
	want    map[string]bool
	found   map[string]flow.Candidate
	order   []string
	allSeen chan struct{}
}

func (s *scan) add(a Announcement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.want) > 0 && !s.want[a.Serial] {
		return
	}
	if _, dup := s.found[a.Serial]; !dup {
		s.order = append(s.order, a.Serial)
	}
	s.found[a.Serial] = flow.Candidate{
		Serial: a.Serial,
		Name:   a.Name,
		Host:   a.Host,
		Port:   a.Port,
		TLS:    a.TLS,
		Model:  a.Model,
	}
	if len(s.want) > 0 && len(s.found) == len(s.want) {
		select {
		case <-s.allSeen:
		default:
			close(s.allSeen)
		}
	}
}

func (s *scan) candidates() []flow.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flow.Candidate, 0, len(s.order))
	for _, sn := range s.order {
		out = append(out, s.found[sn])
	}
	return out
}

// Scan publishes a scan request and collects announcements until ctx is done or,
// when serials are given, until all of them have answered. Running out of
// time returns the partial result together with ctx.Err().
func (c *Client) Scan(ctx context.Context, serials ...string) ([]flow.Candidate, error) {
	id := c.newID()
	s := &scan{
		want:    make(map[string]bool, len(serials)),
		found:   make(map[string]flow.Candidate),
		allSeen: make(chan struct{}),
	}
	for _, sn := range serials {
		s.want[sn] = true
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, ErrNotStarted
	}
	c.scans[id] = s
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.scans, id)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(ScanRequest{RequestID: id, Timestamp: c.now(), Serials: serials})
	if err != nil {
		return nil, fmt.Errorf("marshalling scan request: %w", err)
	}
	if err := c.bus.Publish(c.topics.DiscoveryScan(), payload, c.cfg.QoS, false); err != nil {
		return nil, fmt.Errorf("publishing scan request: %w", err)
	}
	c.logger.Debug("gateway scan started", "scan_id", id, "serials", serials)

	select {
	case <-s.allSeen:
		return s.candidates(), nil
	case <-ctx.Done():
		found := s.candidates()
		c.logger.Debug("gateway scan ended", "scan_id", id, "found", len(found))
		return found, ctx.Err()
	}
}

func (c *Client) handleAnnouncement(_ string, payload []byte) error {
	var a Announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return fmt.Errorf("%w: announcement: %w", ErrInvalidResponse, err)
	}
	if err := inventory.ValidSerial(a.Serial); err != nil {
		return fmt.Errorf("%w: announcement: %w", ErrInvalidResponse, err)
	}

	c.mu.Lock()
	scans := make([]*scan, 0, len(c.scans))
	for _, s := range c.scans {
		scans = append(scans, s)
	}
	c.mu.Unlock()

	for _, s := range scans {
		s.add(a)
	}
	return nil
}

func (c *Client) handleResponse(topic string, payload []byte) error {
	_, topicID, ok := mqtt.ParseGatewayResponse(topic)
	if !ok {
		return nil
	}

	var resp ResponseMessage
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if resp.RequestID == "" {
		resp.RequestID = topicID
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("response for unknown request", "request_id", resp.RequestID)
		return nil
	}

	select {
	case ch <- resp:
	default:
	}
	return nil
}

// Request sends an action to a gateway and waits for its response data.
func (c *Client) Request(ctx context.Context, serial, action string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	msg := RequestMessage{RequestID: c.newID(), Timestamp: c.now(), Action: action}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s parameters: %w", action, err)
		}
		msg.Parameters = raw
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s request: %w", action, err)
	}

	ch := make(chan ResponseMessage, 1)
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, ErrNotStarted
	}
	c.pending[msg.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	if err := c.bus.Publish(c.topics.GatewayRequest(serial, msg.RequestID), payload, c.cfg.QoS, false); err != nil {
		return nil, fmt.Errorf("publishing %s request: %w", action, err)
	}

	select {
	case resp := <-ch:
		if !resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("%w: %s: %s", ErrRejected, resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("%w: %s", ErrRejected, action)
		}
		return resp.Data, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s to %s", ErrTimeout, action, serial)
		}
		return nil, ctx.Err()
	}
}

// Connect opens a session with the gateway.
func (c *Client) Connect(ctx context.Context, cand flow.Candidate) (flow.Connection, error) {
	params := ConnectParameters{Host: cand.Host, Port: cand.Port, TLS: cand.TLS}
	if _, err := c.Request(ctx, cand.Serial, ActionConnect, params); err != nil {
		return nil, err
	}
	c.logger.Info("connected to gateway", "gateway", cand.Serial, "host", cand.Host)
	return &Session{client: c, serial: cand.Serial}, nil
}

// Session is an open gateway session.
type Session struct {
	client *Client
	serial string
}

// FetchInventory requests and decodes the gateway's complete inventory.
func (s *Session) FetchInventory(ctx context.Context) ([]inventory.Item, error) {
	data, err := s.client.Request(ctx, s.serial, ActionInventory, nil)
	if err != nil {
		return nil, err
	}
	items, err := inventory.Decode(s.serial, data)
	if err != nil {
		return nil, fmt.Errorf("decoding inventory from %s: %w", s.serial, err)
	}
	return items, nil
}

// Close ends the session. It is best-effort: the gateway drops idle
// sessions on its own.
func (s *Session) Close() error {
	_, err := s.client.Request(context.Background(), s.serial, ActionDisconnect, nil)
	return err
}
