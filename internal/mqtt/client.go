// Package mqtt bridges the PDU to an MQTT broker: it publishes outlet and
// meter readings from every snapshot, accepts switch commands and announces
// the entities to Home Assistant through MQTT discovery.
package mqtt

import (
	"fmt"
	"regexp"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/jamesprial/netio-mcp/internal/config"
	"github.com/jamesprial/netio-mcp/internal/netio"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "on"
	PayloadOff     = "off"
	PayloadToggle  = "toggle"
	PayloadRestart = "restart"
)

// OptsFromConfig builds the paho client options. The bridge state topic is
// registered as a retained last will so subscribers see "offline" when the
// process dies without disconnecting.
func OptsFromConfig(cfg config.MQTTConfig) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetWill(bridgeStateTopic(cfg.BaseTopic), PayloadOffline, 0, true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout)
	}
	// Command handlers perform an HTTP write to the device.
	opts.SetOrderMatters(false)
	return opts
}

// Topics derives every topic used by the bridge from the base topic.
type Topics struct {
	base      string
	discovery string
	commandRe *regexp.Regexp
}

// NewTopics returns the topic layout for base, with Home Assistant discovery
// configs published under discovery.
func NewTopics(base, discovery string) Topics {
	return Topics{
		base:      base,
		discovery: discovery,
		commandRe: switchCommandExtractor(base),
	}
}

func (t Topics) BridgeState() string {
	return bridgeStateTopic(t.base)
}

func (t Topics) SensorState(sensorID string) string {
	return fmt.Sprintf("%s/sensor/%s/state", t.base, sensorID)
}

func (t Topics) SwitchState(switchID string) string {
	return fmt.Sprintf("%s/switch/%s/state", t.base, switchID)
}

func (t Topics) SwitchCommand(switchID string) string {
	return fmt.Sprintf("%s/switch/%s/command", t.base, switchID)
}

// CommandSubscription is the wildcard filter covering every switch command.
func (t Topics) CommandSubscription() string {
	return fmt.Sprintf("%s/switch/+/command", t.base)
}

// DiscoveryConfig is the Home Assistant discovery topic for one entity.
func (t Topics) DiscoveryConfig(component, nodeID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discovery, component, nodeID, objectID)
}

// ParseSwitchCommand extracts the switch identifier from a command topic.
func (t Topics) ParseSwitchCommand(topic string) (string, bool) {
	m := t.commandRe.FindStringSubmatch(topic)
	if len(m) != 2 {
		return "", false
	}
	return m[1], true
}

// SwitchID is the entity identifier used for an outlet, e.g. "output_3".
func SwitchID(id netio.OutletID) string {
	return fmt.Sprintf("output_%d", int(id))
}

func switchCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/switch/([a-zA-Z0-9_]+)/command$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
