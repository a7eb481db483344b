package mqtt

import (
	"errors"
	"net/url"
	"time"
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout for the initial connection. Default is 5s.
	ConnectTimeout time.Duration

	// SessionExpiry is the MQTT 5 session expiry interval in seconds.
	SessionExpiry uint32

	// Will message published by the broker if the client drops off
	// ungracefully. Empty WillTopic disables it.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// CleanStart indicates whether to start a clean session.
	// The bridge publishes state, not queued work, so true is the norm.
	CleanStart bool

	// InsecureSkipVerify disables TLS certificate verification.
	// Only for brokers with self-signed certificates.
	InsecureSkipVerify bool
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return err
	}
	return nil
}
