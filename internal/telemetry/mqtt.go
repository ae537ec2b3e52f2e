// Package telemetry publishes server state, player activity, and game
// events to an MQTT broker for home-automation and monitoring setups.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/events"
	"github.com/caleb-collar/land-of-oz-dsm/internal/util"
)

// Topic suffixes below the configured topic base.
const (
	TopicState   = "state"
	TopicPlayers = "players"
	TopicEvents  = "events"
	TopicSaves   = "saves"
)

// MQTTHandler manages the MQTT connection and publishes telemetry from the
// event bus.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	topicBase string

	// Metadata included in every message.
	metadata map[string]interface{}
}

// NewMQTTHandler creates an MQTT telemetry handler from the application
// configuration.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:       cfg,
		eventBus:  eventBus,
		topicBase: mqttCfg.TopicBase,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"world":    cfg.GetServerData().World,
		},
	}
	if handler.topicBase == "" {
		handler.topicBase = "ozdsm"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("ozdsm-%s", sysInfo.Hostname))
	}
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

// Start connects to the broker, bridges bus events to topics, and blocks
// until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Str("topic_base", h.topicBase).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.publish(TopicState, map[string]interface{}{"state": "manager_shutdown"})
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventProcessStateChanged, "mqtt.state", h.onStateChanged)
	h.eventBus.Subscribe(events.EventPlayerJoined, "mqtt.playerJoined", h.onPlayerJoined)
	h.eventBus.Subscribe(events.EventPlayerLeft, "mqtt.playerLeft", h.onPlayerLeft)
	h.eventBus.Subscribe(events.EventPlayerListUpdate, "mqtt.playerList", h.onPlayerList)
	h.eventBus.Subscribe(events.EventWorldSaved, "mqtt.worldSaved", h.onWorldSaved)
	h.eventBus.Subscribe(events.EventRandomEvent, "mqtt.randomEvent", h.onRandomEvent)
	h.eventBus.Subscribe(events.EventWatchdogRestart, "mqtt.restart", h.onRestart)
}

// publish sends a JSON message below the topic base at QoS 1.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	fullTopic := h.topicBase + "/" + topic
	token := h.client.Publish(fullTopic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", fullTopic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) onStateChanged(event events.Event) {
	p, ok := event.Payload.(events.ProcessStateChangedPayload)
	if !ok {
		return
	}
	h.publish(TopicState, map[string]interface{}{
		"state":    p.New.String(),
		"previous": p.Old.String(),
	})
}

func (h *MQTTHandler) onPlayerJoined(event events.Event) {
	h.publish(TopicPlayers, map[string]interface{}{
		"event":  "joined",
		"player": event.Payload,
	})
}

func (h *MQTTHandler) onPlayerLeft(event events.Event) {
	h.publish(TopicPlayers, map[string]interface{}{
		"event":  "left",
		"player": event.Payload,
	})
}

func (h *MQTTHandler) onPlayerList(event events.Event) {
	p, ok := event.Payload.(events.PlayerListPayload)
	if !ok {
		return
	}
	h.publish(TopicPlayers, map[string]interface{}{
		"event": "list",
		"names": p.Names,
		"count": len(p.Names),
	})
}

func (h *MQTTHandler) onWorldSaved(event events.Event) {
	h.publish(TopicSaves, event.Payload)
}

func (h *MQTTHandler) onRandomEvent(event events.Event) {
	h.publish(TopicEvents, event.Payload)
}

func (h *MQTTHandler) onRestart(event events.Event) {
	h.publish(TopicState, map[string]interface{}{
		"state":   "restarting",
		"restart": event.Payload,
	})
}
