// Package notify publishes fleet lifecycle events to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "loaner/events"

// Event is one accepted lifecycle event.
type Event struct {
	Type            string `json:"event"`
	VIN             string `json:"vin"`
	LoanerRequestID string `json:"loaner_request_id,omitempty"`
	Timestamp       string `json:"timestamp"`
	Warning         string `json:"warning,omitempty"`
}

// Publisher delivers events best-effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close()                               {}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes events as JSON at QoS 1.
type MQTTPublisher struct {
	client mqttClient
	prefix string
}

// NewMQTTPublisher connects to brokerURL and waits up to timeout for the
// connection to come up.
func NewMQTTPublisher(brokerURL, prefix string, timeout time.Duration) (*MQTTPublisher, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("loaner-command-center-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %s", brokerURL, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	log.WithField("broker", brokerURL).Info("Connected to MQTT broker")
	return newMQTTPublisher(client, prefix), nil
}

func newMQTTPublisher(client mqttClient, prefix string) *MQTTPublisher {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTPublisher{client: client, prefix: prefix}
}

// Topic returns the topic an event type is published to.
func (p *MQTTPublisher) Topic(eventType string) string {
	return p.prefix + "/" + eventType
}

// Publish sends e and waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	token := p.client.Publish(p.Topic(e.Type), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
