// Package netio provides a client for the NETIO power distribution unit JSON
// API: the device model, the wire codec, outlet addressing and the HTTP
// transport used to read measurements and switch outlets.
package netio

import "context"

// AgentInfo is the device identity block reported under "Agent".
type AgentInfo struct {
	Model        string     `json:"Model"`
	DeviceName   string     `json:"DeviceName"`
	MAC          string     `json:"MAC"`
	SerialNumber string     `json:"SerialNumber"`
	JSONVer      string     `json:"JSONVer"`
	Time         DeviceTime `json:"Time"`
	Uptime       int64      `json:"Uptime"` // seconds
	Version      string     `json:"Version"`
	OemID        int        `json:"OemID"`
	VendorID     int        `json:"VendorID"`
	NumOutputs   int        `json:"NumOutputs"`
	NumInputs    int        `json:"NumInputs"`
}

// GlobalMeasure holds the aggregate readings across all outlets. Currents are
// in mA, loads in W and energy counters in Wh; the NR counters cannot be reset
// from the device UI.
type GlobalMeasure struct {
	Voltage              float64    `json:"Voltage"`
	Frequency            float64    `json:"Frequency"`
	TotalCurrent         int64      `json:"TotalCurrent"`
	TotalLoad            int64      `json:"TotalLoad"`
	OverallPowerFactor   float64    `json:"OverallPowerFactor"`
	TotalPowerFactor     float64    `json:"TotalPowerFactor"`
	OverallPhase         float64    `json:"OverallPhase"` // degrees
	TotalPhase           float64    `json:"TotalPhase"`   // degrees
	TotalEnergy          int64      `json:"TotalEnergy"`
	TotalReverseEnergy   int64      `json:"TotalReverseEnergy"`
	TotalEnergyNR        int64      `json:"TotalEnergyNR"`
	TotalReverseEnergyNR int64      `json:"TotalReverseEnergyNR"`
	EnergyStart          DeviceTime `json:"EnergyStart"`
}

// OutletState is one entry of the "Outputs" array.
type OutletState struct {
	ID            OutletID     `json:"ID"`
	Name          string       `json:"Name"`
	State         OutletStatus `json:"State"`
	Action        OutletAction `json:"Action"`
	Delay         int64        `json:"Delay"`   // ms
	Current       int64        `json:"Current"` // mA
	Load          int64        `json:"Load"`    // W
	PowerFactor   float64      `json:"PowerFactor"`
	Phase         float64      `json:"Phase"`
	ReverseEnergy int64        `json:"ReverseEnergy"` // Wh
	Energy        int64        `json:"Energy"`        // Wh
}

// IsOn reports whether the outlet is currently powered.
func (o OutletState) IsOn() bool {
	return o.State == StatusOn
}

// Snapshot is one complete decoded read of the device. A Snapshot is never
// mutated after decoding; a newer read produces a new value.
type Snapshot struct {
	Agent         *AgentInfo    `json:"Agent"`
	GlobalMeasure GlobalMeasure `json:"GlobalMeasure"`
	Outputs       []OutletState `json:"Outputs"`
}

// Outlet returns the outlet with the given identifier.
func (s *Snapshot) Outlet(id OutletID) (OutletState, bool) {
	if s == nil {
		return OutletState{}, false
	}
	for _, o := range s.Outputs {
		if o.ID == id {
			return o, true
		}
	}
	return OutletState{}, false
}

// Device is the set of operations the rest of the service needs from a PDU.
type Device interface {
	FetchAgentInfo(ctx context.Context) (*AgentInfo, error)
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
	FetchOutlet(ctx context.Context, id OutletID) (OutletState, error)
	SetOutletAction(ctx context.Context, id OutletID, action OutletAction) error
	OutletCount() int
}
