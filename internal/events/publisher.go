// Package events publishes catalog lifecycle notifications over MQTT
// so other home automation pieces can react to library changes. An
// embedded broker is available for installations without one.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"fennec/internal/catalog"
)

// Config configures the publisher.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher emits scan and catalog events. Publishing is best effort;
// a broker outage never blocks the scanner.
type Publisher struct {
	log    *zap.Logger
	client mqtt.Client
	prefix string
}

// NewPublisher connects to the broker.
func NewPublisher(log *zap.Logger, cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, fmt.Errorf("events: broker url is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "fennec"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fennec"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("events: timed out connecting to %s", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("events: connect to %s: %w", cfg.BrokerURL, err)
	}

	return &Publisher{
		log:    log.With(zap.String("component", "events")),
		client: client,
		prefix: strings.TrimRight(cfg.TopicPrefix, "/"),
	}, nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) publish(topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	full := p.prefix + "/" + topic
	token := p.client.Publish(full, 0, false, body)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.log.Debug("publish failed",
				zap.String("topic", full), zap.Error(token.Error()))
		}
	}()
}

// ScanStarted implements scanner.Notifier.
func (p *Publisher) ScanStarted(mode string) {
	p.publish("scan/started", map[string]any{
		"mode": mode,
		"at":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ScanFinished implements scanner.Notifier.
func (p *Publisher) ScanFinished(mode string, elapsed time.Duration, stats catalog.Stats) {
	p.publish("scan/finished", map[string]any{
		"mode":       mode,
		"elapsed_ms": elapsed.Milliseconds(),
		"containers": stats.Containers,
		"items":      stats.Items,
	})
}

// ContentChanged reports an incremental catalog mutation from the
// filesystem watcher.
func (p *Publisher) ContentChanged() {
	p.publish("catalog/changed", map[string]any{
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}
