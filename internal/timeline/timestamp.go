package timeline

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// secondsThreshold separates epoch seconds from epoch milliseconds.
const secondsThreshold = 1e11

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// NormalizeTimestamp converts a raw timestamp into epoch milliseconds.
//
// Strings containing '-' or ':' are parsed as calendar timestamps (UTC when
// no zone is given). Anything else is treated as a number: values below 1e11
// are epoch seconds, the rest are already milliseconds. ok is false when the
// value cannot be interpreted.
func NormalizeTimestamp(raw any) (ms int64, ok bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case string:
		return normalizeString(v)
	case json.Number:
		return normalizeString(v.String())
	case float64:
		return normalizeNumber(v)
	case float32:
		return normalizeNumber(float64(v))
	case int:
		return normalizeNumber(float64(v))
	case int64:
		return normalizeNumber(float64(v))
	case int32:
		return normalizeNumber(float64(v))
	case uint64:
		return normalizeNumber(float64(v))
	case time.Time:
		if v.IsZero() {
			return 0, false
		}
		return v.UnixMilli(), true
	}
	return 0, false
}

// MustNormalize is NormalizeTimestamp returning 0 for unusable input.
func MustNormalize(raw any) int64 {
	ms, _ := NormalizeTimestamp(raw)
	return ms
}

func normalizeString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.ContainsAny(s, "-:") {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli(), true
			}
		}
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return normalizeNumber(f)
}

func normalizeNumber(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	if f < secondsThreshold {
		return int64(math.Round(f * 1000)), true
	}
	return int64(f), true
}

// Stamp is a JSON value holding a timestamp in any of the shapes the bridge
// emits. It always decodes to epoch milliseconds.
type Stamp int64

func (s *Stamp) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*s = Stamp(MustNormalize(raw))
	return nil
}

// Millis returns the stamp as epoch milliseconds. Stamps built from a raw
// integer are normalized the same way as decoded ones.
func (s Stamp) Millis() int64 { return MustNormalize(int64(s)) }
