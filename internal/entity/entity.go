// Package entity models the schema-free records returned by the lookup
// backend. An Entity is an open attribute map; nothing about its shape is
// guaranteed, so every accessor is total and tolerates absent or oddly typed
// fields.
package entity

import (
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Entity is a single device or tower record, verbatim from the backend.
// Entities are replaced wholesale on each query, never merged or patched.
type Entity map[string]any

// sortedJSON serializes maps with sorted keys so that Blob output is
// deterministic across runs and across identical entities.
var sortedJSON = jsoniter.Config{SortMapKeys: true}.Froze()

// Type returns the category string, or "" when absent.
func (e Entity) Type() string {
	return e.stringField("type")
}

// DisplayName picks the best display-name candidate in priority order:
// network name, hardware address, network address, cell identifier, then the
// generic identifier. Empty when none is set.
func (e Entity) DisplayName() string {
	return e.stringField("ssid", "bssid", "ip", "cell_id", "id")
}

// ID returns the generic identifier field, or "" when absent.
func (e Entity) ID() string {
	return e.stringField("id")
}

// Vendor returns the vendor/organization label candidate.
func (e Entity) Vendor() string {
	return e.stringField("vendor", "org", "radio")
}

// Metadata returns the secondary timestamp-or-signal line: first non-empty
// of timestamp, lastupdt, info, signal.
func (e Entity) Metadata() string {
	return e.stringField("timestamp", "lastupdt", "info", "signal")
}

// Coordinates returns the entity position when both lat and lon are present
// and finite. Numeric strings are accepted; anything else reports ok=false.
func (e Entity) Coordinates() (lat, lon float64, ok bool) {
	lat, latOK := toFloat(e["lat"])
	lon, lonOK := toFloat(e["lon"])
	if !latOK || !lonOK {
		return 0, 0, false
	}
	return lat, lon, true
}

// Blob returns the full attribute set serialized deterministically and
// lower-cased. The text filter matches against this, so it intentionally
// covers every field rather than just the display ones.
func (e Entity) Blob() string {
	b, err := sortedJSON.Marshal(map[string]any(e))
	if err != nil {
		return ""
	}
	return strings.ToLower(string(b))
}

// PrettyJSON renders the attribute set for the detail drawer and clipboard,
// keys sorted, original casing preserved.
func (e Entity) PrettyJSON() string {
	b, err := sortedJSON.MarshalIndent(map[string]any(e), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// stringField returns the first key whose value renders to a non-empty
// string.
func (e Entity) stringField(keys ...string) string {
	for _, k := range keys {
		v, present := e[k]
		if !present {
			continue
		}
		if s := renderValue(v); s != "" {
			return s
		}
	}
	return ""
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
