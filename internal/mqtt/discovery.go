package mqtt

import (
	"fmt"
	"strings"

	"github.com/jamesprial/netio-mcp/internal/netio"
)

const manufacturer = "NETIO products a.s."

// HADiscoveryConfig is the payload of a Home Assistant MQTT discovery message.
type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	Name              string            `json:"name"`
	UniqueID          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	StateOn           string            `json:"state_on,omitempty"`
	StateOff          string            `json:"state_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
}

type HADiscoveryDevice struct {
	ID           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

// DiscoveryMessage pairs a discovery topic with its payload.
type DiscoveryMessage struct {
	Topic  string
	Config HADiscoveryConfig
}

// sensorSpec describes one numeric sensor derived from a snapshot.
type sensorSpec struct {
	id          string
	name        string
	unit        string
	deviceClass string
	stateClass  string
	value       func(*netio.Snapshot) string
}

func globalSensors() []sensorSpec {
	return []sensorSpec{
		{id: "voltage", name: "Voltage", unit: "V", deviceClass: "voltage", stateClass: "measurement",
			value: func(s *netio.Snapshot) string { return formatFloat(s.GlobalMeasure.Voltage) }},
		{id: "frequency", name: "Frequency", unit: "Hz", deviceClass: "frequency", stateClass: "measurement",
			value: func(s *netio.Snapshot) string { return formatFloat(s.GlobalMeasure.Frequency) }},
		{id: "total_power", name: "Total power", unit: "W", deviceClass: "power", stateClass: "measurement",
			value: func(s *netio.Snapshot) string { return formatInt(s.GlobalMeasure.TotalLoad) }},
		{id: "total_current", name: "Total current", unit: "mA", deviceClass: "current", stateClass: "measurement",
			value: func(s *netio.Snapshot) string { return formatInt(s.GlobalMeasure.TotalCurrent) }},
		{id: "total_energy", name: "Total energy", unit: "Wh", deviceClass: "energy", stateClass: "total_increasing",
			value: func(s *netio.Snapshot) string { return formatInt(s.GlobalMeasure.TotalEnergy) }},
	}
}

// outletSensors returns the sensors for one outlet. The value functions read
// the outlet by identifier so they stay correct when the device reorders the
// Outputs array.
func outletSensors(id netio.OutletID, label string) []sensorSpec {
	read := func(s *netio.Snapshot, f func(netio.OutletState) int64) string {
		o, ok := s.Outlet(id)
		if !ok {
			return ""
		}
		return formatInt(f(o))
	}
	prefix := SwitchID(id)
	return []sensorSpec{
		{id: prefix + "_current", name: label + " current", unit: "mA", deviceClass: "current", stateClass: "measurement",
			value: func(s *netio.Snapshot) string { return read(s, func(o netio.OutletState) int64 { return o.Current }) }},
		{id: prefix + "_power", name: label + " power", unit: "W", deviceClass: "power", stateClass: "measurement",
			value: func(s *netio.Snapshot) string { return read(s, func(o netio.OutletState) int64 { return o.Load }) }},
		{id: prefix + "_energy", name: label + " energy", unit: "Wh", deviceClass: "energy", stateClass: "total_increasing",
			value: func(s *netio.Snapshot) string { return read(s, func(o netio.OutletState) int64 { return o.Energy }) }},
	}
}

// NodeID derives a stable discovery node identifier from the device identity,
// falling back to fallback when the snapshot carries no agent block.
func NodeID(agent *netio.AgentInfo, fallback string) string {
	raw := fallback
	if agent != nil {
		switch {
		case agent.SerialNumber != "":
			raw = agent.SerialNumber
		case agent.MAC != "":
			raw = agent.MAC
		}
	}
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return "netio_" + b.String()
}

func device(agent *netio.AgentInfo, nodeID string) HADiscoveryDevice {
	d := HADiscoveryDevice{
		ID:           []string{nodeID},
		Manufacturer: manufacturer,
		Name:         "NETIO PDU",
	}
	if agent != nil {
		d.Model = agent.Model
		d.Version = agent.Version
		if agent.DeviceName != "" {
			d.Name = agent.DeviceName
		}
	}
	return d
}

// DiscoveryMessages builds the discovery configs for the outlets and meters
// present in snap.
func DiscoveryMessages(t Topics, snap *netio.Snapshot, nodeID string) []DiscoveryMessage {
	dev := device(snap.Agent, nodeID)
	var msgs []DiscoveryMessage

	sensor := func(s sensorSpec) DiscoveryMessage {
		return DiscoveryMessage{
			Topic: t.DiscoveryConfig("sensor", nodeID, s.id),
			Config: HADiscoveryConfig{
				Device:            dev,
				StateTopic:        t.SensorState(s.id),
				StateClass:        s.stateClass,
				DeviceClass:       s.deviceClass,
				UnitOfMeasurement: s.unit,
				AvTopic:           t.BridgeState(),
				Name:              s.name,
				UniqueID:          nodeID + "_" + s.id,
				Platform:          "mqtt",
			},
		}
	}

	for _, s := range globalSensors() {
		msgs = append(msgs, sensor(s))
	}
	for _, o := range snap.Outputs {
		id := SwitchID(o.ID)
		label := outletLabel(o)
		msgs = append(msgs, DiscoveryMessage{
			Topic: t.DiscoveryConfig("switch", nodeID, id),
			Config: HADiscoveryConfig{
				Device:       dev,
				StateTopic:   t.SwitchState(id),
				CommandTopic: t.SwitchCommand(id),
				AvTopic:      t.BridgeState(),
				Name:         label,
				UniqueID:     nodeID + "_" + id,
				Platform:     "mqtt",
				DeviceClass:  "outlet",
				PayloadOn:    PayloadOn,
				PayloadOff:   PayloadOff,
				StateOn:      PayloadOn,
				StateOff:     PayloadOff,
				Icon:         "mdi:power-socket-eu",
			},
		})
		for _, s := range outletSensors(o.ID, label) {
			msgs = append(msgs, sensor(s))
		}
	}
	return msgs
}

func outletLabel(o netio.OutletState) string {
	if o.Name != "" {
		return o.Name
	}
	return fmt.Sprintf("Outlet %d", int(o.ID))
}
