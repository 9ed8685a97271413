// Package mqtt publishes attendance events and operator alerts to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

type Config struct {
	BrokerURL      string
	ClientID       string
	Topic          string
	AlertTopic     string
	QoS            byte
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// Client wraps a paho client with auto-reconnect. Publishing while the broker
// is unreachable fails fast with TRANSPORT_UNAVAILABLE so the outbox can back off.
type Client struct {
	cfg    Config
	client paho.Client
	logger *slog.Logger

	mu            sync.RWMutex
	connected     bool
	published     map[string]uint64
	errors        uint64
	subscriptions map[string]func(payload []byte)
}

func New(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		cfg:           cfg,
		logger:        logger,
		published:     make(map[string]uint64),
		subscriptions: make(map[string]func(payload []byte)),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = c.onConnectionLost

	c.client = paho.NewClient(opts)
	return c
}

func (c *Client) onConnect(paho.Client) {
	c.setConnected(true)
	c.logger.Info("mqtt connection established",
		"broker", c.cfg.BrokerURL,
		"client_id", c.cfg.ClientID,
	)

	c.mu.RLock()
	subs := make(map[string]func([]byte), len(c.subscriptions))
	for topic, handler := range c.subscriptions {
		subs[topic] = handler
	}
	c.mu.RUnlock()

	for topic, handler := range subs {
		c.subscribe(topic, handler)
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.setConnected(false)
	c.logger.Warn("mqtt connection lost, will auto-reconnect",
		"broker", c.cfg.BrokerURL,
		"error", err,
	)
}

// Connect starts connecting. If the broker is not reachable within the connect
// timeout the client keeps retrying in the background and Connect returns nil;
// events accumulate in the outbox meanwhile.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to mqtt broker", "broker", c.cfg.BrokerURL)

	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		c.setConnected(true)
		return nil
	case <-timer.C:
		c.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", c.cfg.BrokerURL)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends an event payload to the events topic and waits for the broker
// acknowledgment (PUBACK at QoS 1) or ctx expiry.
func (c *Client) Publish(ctx context.Context, payload []byte) error {
	return c.publish(ctx, c.cfg.Topic, payload)
}

// NotifyFailure publishes an alert for an entry whose delivery attempts are exhausted.
func (c *Client) NotifyFailure(ctx context.Context, entry domain.OutboxEntry) error {
	if c.cfg.AlertTopic == "" {
		return nil
	}

	payload, err := json.Marshal(alert{
		Seq:        entry.Record.Seq,
		RecordID:   entry.Record.ID.String(),
		IdentityID: entry.Record.IdentityID,
		DeviceID:   entry.Record.DeviceID,
		Attempts:   entry.Attempts,
		LastError:  entry.LastError,
		FailedAt:   entry.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	return c.publish(ctx, c.cfg.AlertTopic, payload)
}

type alert struct {
	Seq        int64     `json:"seq"`
	RecordID   string    `json:"record_id"`
	IdentityID string    `json:"identity_id"`
	DeviceID   string    `json:"device_id"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	FailedAt   time.Time `json:"failed_at"`
}

func (c *Client) publish(ctx context.Context, topic string, payload []byte) error {
	if !c.Connected() {
		c.countError()
		return domain.ErrTransportUnavailable.WithError(fmt.Errorf("mqtt not connected"))
	}

	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.countError()
		return domain.ErrTransportUnavailable.WithError(fmt.Errorf("publish to %s: %w", topic, ctx.Err()))
	}

	if err := token.Error(); err != nil {
		c.countError()
		return domain.ErrTransportUnavailable.WithError(fmt.Errorf("publish to %s: %w", topic, err))
	}

	c.mu.Lock()
	c.published[topic]++
	c.mu.Unlock()

	c.logger.Debug("mqtt message published", "topic", topic, "qos", c.cfg.QoS, "size", len(payload))
	return nil
}

// Subscribe registers handler for topic. Subscriptions are renewed on every
// (re)connect; handler runs on the paho router goroutine and must not block.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.subscribe(topic, handler)
	}
}

func (c *Client) subscribe(topic string, handler func(payload []byte)) {
	token := c.client.Subscribe(topic, c.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})

	// never wait on a token inside a paho callback
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.countError()
			c.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
			return
		}
		c.logger.Info("mqtt subscribed", "topic", topic, "qos", c.cfg.QoS)
	}()
}

// Close disconnects with a short grace period for in-flight messages.
func (c *Client) Close() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("mqtt disconnected")
	}
	c.setConnected(false)
}

// Connected reports the last known connection state.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	published := make(map[string]uint64, len(c.published))
	for k, v := range c.published {
		published[k] = v
	}

	return Stats{
		Connected: c.connected,
		Published: published,
		Errors:    c.errors,
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}
