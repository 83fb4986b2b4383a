package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTOptions struct {
	Broker         string
	Port           int
	ClientID       string
	StationID      string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTT publishes uploads to stations/<id>/... topics with QoS 1.
type MQTT struct {
	client mqtt.Client
	opts   MQTTOptions
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
}

func NewMQTT(o MQTTOptions, logger *slog.Logger) *MQTT {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &MQTT{opts: o, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)
	opts.SetCleanSession(true)

	// one attempt per probe; the cycle decides what to do when it fails
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		m.setConnected(true)
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	m.client = mqtt.NewClient(opts)
	return m
}

// Reachable connects to the broker if needed and reports whether that worked
// within the connect timeout.
func (m *MQTT) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	if err := m.connect(ctx); err != nil {
		m.logger.Info("transport: broker unreachable", "broker", m.opts.Broker, "error", err)
		return false
	}
	return true
}

func (m *MQTT) connect(ctx context.Context) error {
	if m.IsConnected() {
		return nil
	}

	token := m.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler runs asynchronously; do not wait for it.
			m.setConnected(true)
			return nil
		}
		select {
		case <-ctx.Done():
			m.client.Disconnect(0)
			return ctx.Err()
		default:
		}
	}
}

func (m *MQTT) Topic(msg Message) (string, error) {
	base := "stations/" + m.opts.StationID
	switch msg.Kind {
	case KindStatus:
		return base + "/status", nil
	case KindReading:
		return base + "/telemetry", nil
	case KindImage:
		if msg.Name == "" {
			return "", fmt.Errorf("image upload without a name")
		}
		return base + "/image/" + msg.Name, nil
	}
	return "", fmt.Errorf("unknown upload kind %q", msg.Kind)
}

func (m *MQTT) Upload(ctx context.Context, msg Message) error {
	topic, err := m.Topic(msg)
	if err != nil {
		return err
	}
	if !m.IsConnected() {
		return fmt.Errorf("%w: mqtt client not connected", ErrUnreachable)
	}

	token := m.client.Publish(topic, 1, false, msg.Payload)
	wait := m.opts.PublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < wait {
			wait = left
		}
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("%w: publish timeout for topic %s", ErrUnreachable, topic)
	}
	if err := token.Error(); err != nil {
		m.logger.Error("failed to publish", "topic", topic, "error", err)
		return fmt.Errorf("%w: publish %s: %v", ErrUnreachable, topic, err)
	}

	m.logger.Debug("published", "topic", topic, "bytes", len(msg.Payload))
	return nil
}

func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected && m.client.IsConnected()
}

// Close disconnects from the broker. Safe to call more than once.
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	m.setConnected(false)
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}
