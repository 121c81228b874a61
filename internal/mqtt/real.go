package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// Publisher defaults.
const (
	defaultConnectTimeout  = 10 * time.Second
	defaultPublishTimeout  = 5 * time.Second
	defaultBreakerFailures = 3
	defaultBreakerCooldown = 30 * time.Second
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within the publish timeout.
var ErrPublishTimeout = errors.New("mqtt: publish timeout")

// Options configures a RealPublisher.
type Options struct {
	Broker         string // e.g. tcp://192.168.1.200:1883
	Topic          string // rate topic
	SystemTopic    string // lifecycle topic
	ClientID       string // empty = NewClientID()
	Session        string // stamped on the will message
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// BreakerFailures consecutive publish failures open the circuit for
	// BreakerCooldown, after which one trial publish is let through.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (o *Options) setDefaults() {
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.SystemTopic == "" {
		o.SystemTopic = DefaultSystemTopic
	}
	if o.ClientID == "" {
		o.ClientID = NewClientID()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = defaultPublishTimeout
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = defaultBreakerFailures
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = defaultBreakerCooldown
	}
}

// NewClientID returns a client id unique to this process, so several
// boards can share one broker.
func NewClientID() string {
	return "pulse-sensor-" + uuid.NewString()[:8]
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Publishes go through a
// circuit breaker so a dead broker fails fast instead of costing a full
// publish timeout per message.
type RealPublisher struct {
	client      client
	topic       string
	systemTopic string
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker[struct{}]
	logger      *slog.Logger
}

// NewRealPublisher creates a publisher connected to the configured broker.
// If the broker is not reachable within the connect timeout the client
// keeps retrying in the background and the publisher is still returned.
func NewRealPublisher(opts Options, logger *slog.Logger) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.setDefaults()

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
		Session:   opts.Session,
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.SystemTopic, will, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("mqtt connected", "broker", opts.Broker, "client_id", opts.ClientID)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})

	c := paho.NewClient(clientOpts)
	token := c.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", opts.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return newRealPublisher(c, opts, logger), nil
}

// newRealPublisher wraps a client with the circuit breaker. opts must
// have its defaults set.
func newRealPublisher(c client, opts Options, logger *slog.Logger) *RealPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RealPublisher{
		client:      c,
		topic:       opts.Topic,
		systemTopic: opts.SystemTopic,
		timeout:     opts.PublishTimeout,
		logger:      logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "mqtt:" + opts.Broker,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mqtt circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return p
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		token := p.client.Publish(topic, qos, retained, payload)
		if !token.WaitTimeout(p.timeout) {
			return struct{}{}, ErrPublishTimeout
		}
		return struct{}{}, token.Error()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publish %s: circuit open: %w", topic, err)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishRate sends a rate to the rate topic.
func (p *RealPublisher) PublishRate(rate int) error {
	// QoS 0 (at-most-once), not retained
	return p.publish(p.topic, 0, false, FormatRate(rate))
}

// PublishSystem sends a system lifecycle event to the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(p.systemTopic, 1, event.Retained, payload)
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// BreakerState returns the circuit breaker state ("closed", "open", "half-open").
func (p *RealPublisher) BreakerState() string {
	return p.breaker.State().String()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
