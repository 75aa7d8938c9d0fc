package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/turinglab/turinglab/internal/buildinfo"
	"github.com/turinglab/turinglab/internal/config"
	"github.com/turinglab/turinglab/internal/events"
)

const (
	defaultTopicPrefix = "turinglab"
	statsInterval      = time.Minute
	publishTimeout     = 5 * time.Second
	eventBufferLen     = 256
)

// Publisher manages the MQTT connection and forwards bus events to the
// broker.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	stats    *DailyStats
	logger   *slog.Logger
	interval time.Duration

	mu sync.Mutex
	cm *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and forwarding loop.
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		stats:    NewDailyStats(nil),
		logger:   logger,
		interval: statsInterval,
	}
}

// Stats returns the publisher's run counters.
func (p *Publisher) Stats() *DailyStats {
	return p.stats
}

// Start connects to the broker and forwards events until ctx is
// cancelled. On every (re-)connect it publishes an "online" birth
// message to the availability topic.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	// Subscribe before connecting so runs during the handshake still
	// count toward stats.
	ch := p.bus.Subscribe(eventBufferLen)
	defer p.bus.Unsubscribe(ch)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker, "client_id", p.clientID)
			p.publishAvailability(ctx, cm, "online")
			p.publishStats(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx, cm, ch)
	return nil
}

// Stop publishes "offline" to the availability topic and disconnects.
// ctx bounds how long both may take.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.conn()
	if cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return cm.AwaitConnection(ctx)
}

func (p *Publisher) conn() *autopaho.ConnectionManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cm
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) statsTopic() string {
	return p.cfg.TopicPrefix + "/stats"
}

func (p *Publisher) eventTopic(kind string) string {
	return p.cfg.TopicPrefix + "/events/" + topicSegment(kind)
}

// topicSegment makes s safe as a single topic level: wildcard and
// separator characters become underscores.
func topicSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}

// --- Payloads ---

type statsPayload struct {
	Stats
	Version string    `json:"version"`
	Uptime  string    `json:"uptime"`
	Updated time.Time `json:"updated"`
}

func (p *Publisher) statsPayload() ([]byte, error) {
	return json.Marshal(statsPayload{
		Stats:   p.stats.Snapshot(),
		Version: buildinfo.Version,
		Uptime:  buildinfo.Uptime().String(),
		Updated: time.Now().UTC(),
	})
}

// --- Publishing ---

func (p *Publisher) publish(ctx context.Context, cm *autopaho.ConnectionManager, msg *paho.Publish) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err := cm.Publish(ctx, msg)
	return err
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if err := p.publish(ctx, cm, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) publishStats(ctx context.Context, cm *autopaho.ConnectionManager) {
	payload, err := p.statsPayload()
	if err != nil {
		p.logger.Error("mqtt marshal stats payload", "error", err)
		return
	}
	if err := p.publish(ctx, cm, &paho.Publish{
		Topic:   p.statsTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

func (p *Publisher) publishEvent(ctx context.Context, cm *autopaho.ConnectionManager, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event payload", "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e.Kind)
	if err := p.publish(ctx, cm, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

// --- Forwarding loop ---

func (p *Publisher) runLoop(ctx context.Context, cm *autopaho.ConnectionManager, ch <-chan events.Event) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.stats.Observe(e)
			p.publishEvent(ctx, cm, e)
		case <-ticker.C:
			p.publishStats(ctx, cm)
		}
	}
}
