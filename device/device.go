package device

import (
	"errors"
	"fmt"
)

// Kind tags a device as reporting the world (sensor) or commanding it
// (actuator). The tag is fixed at construction; a device observed under a
// given name keeps its kind for the lifetime of a run.
type Kind uint8

const (
	KindSensor Kind = iota
	KindActuator
)

func (k Kind) String() string {
	switch k {
	case KindSensor:
		return "sensor"
	case KindActuator:
		return "actuator"
	default:
		return "unknown"
	}
}

// Quality is the per-device attestation tag. Once a device degrades to
// failed or unavailable, only an environment may re-attest it as valid.
type Quality string

const (
	QualityValid       Quality = "valid"
	QualityStale       Quality = "stale"
	QualityFailed      Quality = "failed"
	QualityUnavailable Quality = "unavailable"
)

// Latched reports whether the quality requires environment re-attestation
// before the device may be considered valid again.
func (q Quality) Latched() bool { return q == QualityFailed || q == QualityUnavailable }

var (
	ErrEmptyName       = errors.New("device name must not be empty")
	ErrDuplicateDevice = errors.New("duplicate device name in state")
)

// Device is a named, typed interface point with a small set of required
// members (value, timestamp, quality) and an open extension attribute map
// for optional entries such as min, max, label, unit, or locator paths.
//
// Device is a value type. All mutators return a fresh copy; holders of an
// existing Device never observe changes made by downstream consumers.
type Device struct {
	name      string
	kind      Kind
	value     float64
	timestamp int64 // monotonic nanoseconds of last update
	quality   Quality
	attrs     map[string]Attr
}

// NewSensor constructs a sensor device.
func NewSensor(name string, value float64, timestamp int64, quality Quality) Device {
	return New(name, KindSensor, value, timestamp, quality)
}

// NewActuator constructs an actuator device.
func NewActuator(name string, value float64, timestamp int64, quality Quality) Device {
	return New(name, KindActuator, value, timestamp, quality)
}

// New constructs a device of the given kind. An empty quality defaults to
// valid.
func New(name string, kind Kind, value float64, timestamp int64, quality Quality) Device {
	if quality == "" {
		quality = QualityValid
	}
	return Device{name: name, kind: kind, value: value, timestamp: timestamp, quality: quality}
}

func (d Device) Name() string     { return d.name }
func (d Device) Kind() Kind       { return d.kind }
func (d Device) Value() float64   { return d.value }
func (d Device) Timestamp() int64 { return d.timestamp }
func (d Device) Quality() Quality { return d.quality }

// IsZero reports whether the device is the zero value (no name).
func (d Device) IsZero() bool { return d.name == "" }

// WithValue returns a copy carrying the new value and timestamp. Timestamps
// never regress: a timestamp earlier than the current one is raised to it.
func (d Device) WithValue(value float64, timestamp int64) Device {
	out := d.clone()
	out.value = value
	if timestamp > out.timestamp {
		out.timestamp = timestamp
	}
	return out
}

// WithQuality returns a copy carrying the new quality tag and timestamp.
func (d Device) WithQuality(quality Quality, timestamp int64) Device {
	out := d.clone()
	out.quality = quality
	if timestamp > out.timestamp {
		out.timestamp = timestamp
	}
	return out
}

// WithAttr returns a copy with the extension attribute set.
func (d Device) WithAttr(key string, value Attr) Device {
	out := d.clone()
	if out.attrs == nil {
		out.attrs = make(map[string]Attr, 1)
	}
	out.attrs[key] = value
	return out
}

// Attr returns the named extension attribute.
func (d Device) Attr(key string) (Attr, bool) {
	a, ok := d.attrs[key]
	return a, ok
}

// AttrKeys returns the extension attribute keys in unspecified order.
func (d Device) AttrKeys() []string {
	if len(d.attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d.attrs))
	for k := range d.attrs {
		keys = append(keys, k)
	}
	return keys
}

// Equal reports full equality of the required members and extension map.
func (d Device) Equal(other Device) bool {
	if d.name != other.name || d.kind != other.kind || d.value != other.value ||
		d.timestamp != other.timestamp || d.quality != other.quality {
		return false
	}
	if len(d.attrs) != len(other.attrs) {
		return false
	}
	for k, a := range d.attrs {
		b, ok := other.attrs[k]
		if !ok || a != b {
			return false
		}
	}
	return true
}

func (d Device) String() string {
	return fmt.Sprintf("%s(%s value=%g ts=%d quality=%s)", d.kind, d.name, d.value, d.timestamp, d.quality)
}

func (d Device) clone() Device {
	out := d
	if d.attrs != nil {
		out.attrs = make(map[string]Attr, len(d.attrs))
		for k, v := range d.attrs {
			out.attrs[k] = v
		}
	}
	return out
}
