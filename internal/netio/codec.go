package netio

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
)

// wireRoot mirrors the read document with pointers so that a missing
// section can be told apart from a zero one.
type wireRoot struct {
	Agent         *AgentInfo     `json:"Agent"`
	GlobalMeasure *GlobalMeasure `json:"GlobalMeasure"`
	Outputs       *[]wireOutput  `json:"Outputs"`
}

type wireOutput struct {
	ID            *OutletID     `json:"ID"`
	Name          string        `json:"Name"`
	State         *OutletStatus `json:"State"`
	Action        OutletAction  `json:"Action"`
	Delay         int64         `json:"Delay"`
	Current       int64         `json:"Current"`
	Load          int64         `json:"Load"`
	PowerFactor   float64       `json:"PowerFactor"`
	Phase         float64       `json:"Phase"`
	ReverseEnergy int64         `json:"ReverseEnergy"`
	Energy        int64         `json:"Energy"`
}

// Decode parses a read response. Unknown fields are ignored; a missing
// Agent, GlobalMeasure or Outputs section, an outlet without ID or State,
// a fractional value in an integer field or a repeated outlet ID all fail
// with ErrDecode.
func Decode(data []byte) (*Snapshot, error) {
	var root wireRoot
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, describeDecodeError(data, err)
	}
	switch {
	case root.Agent == nil:
		return nil, fmt.Errorf("%w: missing Agent", ErrDecode)
	case root.GlobalMeasure == nil:
		return nil, fmt.Errorf("%w: missing GlobalMeasure", ErrDecode)
	case root.Outputs == nil:
		return nil, fmt.Errorf("%w: missing Outputs", ErrDecode)
	}

	outputs := make([]OutletState, 0, len(*root.Outputs))
	seen := make(map[OutletID]struct{}, len(*root.Outputs))
	for i, w := range *root.Outputs {
		if w.ID == nil {
			return nil, fmt.Errorf("%w: Outputs[%d]: missing ID", ErrDecode, i)
		}
		if w.State == nil {
			return nil, fmt.Errorf("%w: Outputs[%d]: missing State", ErrDecode, i)
		}
		if _, dup := seen[*w.ID]; dup {
			return nil, fmt.Errorf("%w: Outputs[%d]: duplicate ID %d", ErrDecode, i, *w.ID)
		}
		seen[*w.ID] = struct{}{}
		outputs = append(outputs, OutletState{
			ID:            *w.ID,
			Name:          w.Name,
			State:         *w.State,
			Action:        w.Action,
			Delay:         w.Delay,
			Current:       w.Current,
			Load:          w.Load,
			PowerFactor:   w.PowerFactor,
			Phase:         w.Phase,
			ReverseEnergy: w.ReverseEnergy,
			Energy:        w.Energy,
		})
	}
	sortOutlets(outputs)

	return &Snapshot{
		Agent:         root.Agent,
		GlobalMeasure: *root.GlobalMeasure,
		Outputs:       outputs,
	}, nil
}

// integerFields are the keys whose values must be whole numbers.
var integerFields = map[string]struct{}{
	"Uptime": {}, "OemID": {}, "VendorID": {}, "NumOutputs": {}, "NumInputs": {},
	"TotalCurrent": {}, "TotalLoad": {}, "TotalEnergy": {}, "TotalReverseEnergy": {},
	"TotalEnergyNR": {}, "TotalReverseEnergyNR": {},
	"Delay": {}, "Current": {}, "Load": {}, "ReverseEnergy": {}, "Energy": {},
}

// describeDecodeError wraps a parser failure in ErrDecode. The parser reports
// a fraction in an integer field as a syntax error, so the document is walked
// once more to name the offending field.
func describeDecodeError(data []byte, err error) error {
	if path, n, ok := findFractional(data); ok {
		return fmt.Errorf("%w: %s: fractional value %s in integer field", ErrDecode, path, n)
	}
	return fmt.Errorf("%w: %v", ErrDecode, err)
}

func findFractional(data []byte) (string, json.Number, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", "", false
	}
	return walkFractional("", doc)
}

func walkFractional(path string, v any) (string, json.Number, bool) {
	switch v := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if n, ok := v[k].(json.Number); ok {
				if _, isInt := integerFields[k]; isInt && strings.ContainsAny(string(n), ".eE") {
					if _, err := n.Int64(); err != nil {
						return p, n, true
					}
				}
				continue
			}
			if fp, n, ok := walkFractional(p, v[k]); ok {
				return fp, n, true
			}
		}
	case []any:
		for i, e := range v {
			if fp, n, ok := walkFractional(fmt.Sprintf("%s[%d]", path, i), e); ok {
				return fp, n, true
			}
		}
	}
	return "", "", false
}

// Encode serialises a snapshot in the read format. It exists for fakes and
// for round-trip checks of Decode.
func Encode(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// sortOutlets orders outlets by identifier. Devices already report them in
// order, so this is an insertion sort over a handful of elements.
func sortOutlets(outs []OutletState) {
	for i := 1; i < len(outs); i++ {
		for j := i; j > 0 && outs[j].ID < outs[j-1].ID; j-- {
			outs[j], outs[j-1] = outs[j-1], outs[j]
		}
	}
}

// Command is the write document: {"Outputs":[{"ID":n,"Action":a},...]}.
type Command struct {
	Outputs []CommandEntry `json:"Outputs"`
}

// CommandEntry carries only the fields the device acts on.
type CommandEntry struct {
	ID     OutletID     `json:"ID"`
	Action OutletAction `json:"Action"`
}

// BuildCommand returns one entry per identifier, in the given order, all
// carrying the same action.
func BuildCommand(ids []OutletID, action OutletAction) (Command, error) {
	if !action.Settable() {
		return Command{}, fmt.Errorf("%w: %s is read-only", ErrInvalidAction, action)
	}
	if len(ids) == 0 {
		return Command{}, fmt.Errorf("%w: no outlets selected", ErrInvalidSelector)
	}
	cmd := Command{Outputs: make([]CommandEntry, 0, len(ids))}
	for _, id := range ids {
		if id < 1 {
			return Command{}, fmt.Errorf("%w: %s", ErrInvalidSelector, id)
		}
		cmd.Outputs = append(cmd.Outputs, CommandEntry{ID: id, Action: action})
	}
	return cmd, nil
}

// Marshal serialises the command body.
func (c Command) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// SelectorToIdentifiers expands a selector into device outlet identifiers.
// AllOutlets becomes 1..count in ascending order; a concrete outlet becomes
// itself. count <= 0 falls back to DefaultOutletCount.
func SelectorToIdentifiers(sel OutletID, count int) ([]OutletID, error) {
	if count <= 0 {
		count = DefaultOutletCount
	}
	switch {
	case sel == AllOutlets:
		ids := make([]OutletID, count)
		for i := range ids {
			ids[i] = OutletID(i + 1)
		}
		return ids, nil
	case sel < 1 || int(sel) > count:
		return nil, fmt.Errorf("%w: %s (device has %d outlets)", ErrInvalidSelector, sel, count)
	default:
		return []OutletID{sel}, nil
	}
}
