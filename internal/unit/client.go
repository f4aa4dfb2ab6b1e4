package unit

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler processes one inbound message.
type MessageHandler func(topic string, payload []byte)

// Transport is the slice of an MQTT session the bridge uses.
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Disconnect()
}

// ClientOptions configures the broker connection.
type ClientOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic receives "offline" (retained) if the hub drops without disconnecting.
	WillTopic string
}

// Client wraps a paho MQTT client.
type Client struct {
	client mqtt.Client
	logger zerolog.Logger
}

// NewClient connects to the broker.
func NewClient(cfg ClientOptions, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "mqtt").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, StatusOffline, 1, true)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	if cfg.WillTopic != "" {
		client.Publish(cfg.WillTopic, 1, true, []byte(StatusOnline)).Wait()
	}
	return &Client{client: client, logger: logger}, nil
}

// Publish implements Transport.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Subscribe implements Transport.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect implements Transport.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
