package netio

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// OutletID identifies an outlet. Real outlets are numbered from 1. The zero
// value is the error sentinel and AllOutlets is a selector that only exists
// on this side of the wire.
type OutletID int

const (
	OutletError OutletID = 0
	AllOutlets  OutletID = -1
)

// DefaultOutletCount is used when neither the device nor the configuration
// reports how many outlets there are.
const DefaultOutletCount = 4

const outletPrefix = "Output_"

func (id OutletID) String() string {
	switch {
	case id == AllOutlets:
		return outletPrefix + "All"
	case id <= OutletError:
		return "Error"
	default:
		return outletPrefix + strconv.Itoa(int(id))
	}
}

// ParseOutletID accepts "3", "Output_3", "output_3", "all" and "Output_All".
func ParseOutletID(s string) (OutletID, error) {
	v := strings.TrimSpace(s)
	if len(v) >= len(outletPrefix) && strings.EqualFold(v[:len(outletPrefix)], outletPrefix) {
		v = v[len(outletPrefix):]
	}
	if strings.EqualFold(v, "all") {
		return AllOutlets, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return OutletError, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	return OutletID(n), nil
}

// MarshalJSON writes the numeric identifier. The synthetic selectors have no
// wire form.
func (id OutletID) MarshalJSON() ([]byte, error) {
	if id < 1 {
		return nil, fmt.Errorf("%w: %s has no wire representation", ErrInvalidSelector, id)
	}
	return []byte(strconv.Itoa(int(id))), nil
}

func (id *OutletID) UnmarshalJSON(data []byte) error {
	n, err := decodeEnum(data, func(s string) (int, bool) {
		v, err := ParseOutletID(s)
		if err != nil || v == AllOutlets {
			return 0, false
		}
		return int(v), true
	})
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("outlet ID %d out of range", n)
	}
	*id = OutletID(n)
	return nil
}

// OutletStatus is the observed power state of an outlet.
type OutletStatus int

const (
	StatusOff OutletStatus = 0
	StatusOn  OutletStatus = 1
)

var statusNames = []string{"Off", "On"}

func (s OutletStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "OutletStatus(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

func (s OutletStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

func (s *OutletStatus) UnmarshalJSON(data []byte) error {
	n, err := decodeEnum(data, lookupName(statusNames))
	if err != nil {
		return err
	}
	if n < 0 || n >= len(statusNames) {
		return fmt.Errorf("outlet state %d out of range", n)
	}
	*s = OutletStatus(n)
	return nil
}

// OutletAction is the verb carried by a write request, and the last action
// echoed back on reads.
type OutletAction int

const (
	ActionOff      OutletAction = 0
	ActionOn       OutletAction = 1
	ActionShortOff OutletAction = 2 // off, then back on after the outlet delay
	ActionShortOn  OutletAction = 3 // on, then back off after the outlet delay
	ActionToggle   OutletAction = 4
	ActionNoChange OutletAction = 5
	// ActionIgnore only ever appears in reads and is rejected in commands.
	ActionIgnore OutletAction = 6
)

var actionNames = []string{"Off", "On", "ShortOff", "ShortOn", "Toggle", "NoChange", "Ignore"}

func (a OutletAction) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "OutletAction(" + strconv.Itoa(int(a)) + ")"
	}
	return actionNames[a]
}

// Settable reports whether the action may be placed in an outgoing command.
func (a OutletAction) Settable() bool {
	return a >= ActionOff && a <= ActionNoChange
}

// ParseOutletAction accepts the wire names case-insensitively, with or
// without underscores ("short_off"), plus "restart" for ShortOff.
func ParseOutletAction(s string) (OutletAction, error) {
	v := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if strings.EqualFold(v, "restart") {
		return ActionShortOff, nil
	}
	if n, ok := lookupName(actionNames)(v); ok {
		return OutletAction(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

func (a OutletAction) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(a))), nil
}

func (a *OutletAction) UnmarshalJSON(data []byte) error {
	n, err := decodeEnum(data, lookupName(actionNames))
	if err != nil {
		return err
	}
	if n < 0 || n >= len(actionNames) {
		return fmt.Errorf("outlet action %d out of range", n)
	}
	*a = OutletAction(n)
	return nil
}

// decodeEnum reads either a JSON integer or a JSON string naming the value.
func decodeEnum(data []byte, byName func(string) (int, bool)) (int, error) {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		n, ok := byName(s)
		if !ok {
			return 0, fmt.Errorf("unknown enum name %q", s)
		}
		return n, nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func lookupName(names []string) func(string) (int, bool) {
	return func(s string) (int, bool) {
		for i, name := range names {
			if strings.EqualFold(name, s) {
				return i, true
			}
		}
		return 0, false
	}
}
