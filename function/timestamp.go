package function

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/teranos/warden/errors"
)

// Timestamp is a time.Time with a tolerant JSON codec.
// Registries written by other tools use naive ISO-8601 timestamps without a zone,
// space separators, or unix seconds; all of those load. Zero time is written as null.
type Timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// MarshalJSON writes RFC 3339 with nanoseconds, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(tt.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts null, "", any of timestampLayouts, or a unix-seconds number.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	if data[0] != '"' {
		secs, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return errors.Wrapf(err, "invalid timestamp %s", data)
		}
		whole := int64(secs)
		*t = Timestamp(time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC())
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	return errors.Newf("unrecognized timestamp %q", s)
}
