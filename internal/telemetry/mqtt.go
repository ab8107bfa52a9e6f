// Package telemetry publishes lobby events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/util"
)

// Topic suffixes below the configured prefix.
const (
	TopicEvents = "events"
	TopicStats  = "stats"
	TopicAdmin  = "admin"
)

// MQTTHandler forwards bus events to the broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string

	// included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates the handler. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, instanceID, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker_url is empty")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		prefix:   strings.Trim(cfg.TopicPrefix, "/"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"instance_id": instanceID,
			"app_version": version,
		},
	}
	if h.prefix == "" {
		h.prefix = util.AppName
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("%s-%s", util.AppName, uuid.NewString()[:8]))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetWill(h.topic(TopicAdmin), `{"event":"offline"}`, 1, false)

	if cfg.UseTLS {
		tlsConfig, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func loadTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects, forwards events until ctx is cancelled, then publishes
// a shutdown notice and disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Str("prefix", h.prefix).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	if h.eventBus != nil {
		h.eventBus.SubscribeAll("mqtt", h.onEvent)
	}

	<-ctx.Done()

	if h.eventBus != nil {
		h.eventBus.Unsubscribe(events.EventAny, "mqtt")
	}
	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) topic(suffix string) string {
	return h.prefix + "/" + suffix
}

// topicFor maps an event to its topic. Heartbeats carry the traffic
// counters and go to the stats topic.
func (h *MQTTHandler) topicFor(event events.Event) string {
	switch event.Type {
	case events.EventHeartbeat:
		return h.topic(TopicStats)
	case events.EventShutdown:
		return h.topic(TopicAdmin)
	default:
		return h.topic(TopicEvents + "/" + string(event.Type))
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	h.publish(h.topicFor(event), map[string]interface{}{
		"event":   event.Type,
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

// publish sends a JSON message at QoS 1.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if h.client == nil || !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["data"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown notice to the admin topic.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.topic(TopicAdmin), map[string]interface{}{
		"event": "shutdown",
	})
}
