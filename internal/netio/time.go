package netio

import (
	"bytes"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// deviceTimeLayouts are tried in order. Older firmware omits the zone
// offset; such readings are taken as UTC.
var deviceTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// DeviceTime is a timestamp reported by the PDU. It accepts RFC 3339 as well
// as the zone-less form some firmware emits, and always encodes as RFC 3339.
type DeviceTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler. null and "" decode to the zero
// time.
func (t *DeviceTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("device time: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range deviceTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("device time: unrecognised timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t DeviceTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.Format(time.RFC3339Nano) + `"`), nil
}
