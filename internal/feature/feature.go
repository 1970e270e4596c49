// Package feature provides the SnapDog feature registry.
//
// A feature is a protocol-independent command or status with a stable id
// (e.g. VOLUME, MUTE_STATUS). The registry records which transports expose
// each feature and why a transport is excluded. It is built once at startup
// and is read-only afterwards; bridges consult IsProtocolSupported before
// every outbound write.
package feature

import (
	"strconv"
	"strings"
)

// Category groups features by the aggregate they address.
type Category string

// Feature categories.
const (
	CategoryGlobal Category = "global"
	CategoryZone   Category = "zone"
	CategoryClient Category = "client"
	CategoryMedia  Category = "media"
)

// validCategories is the set of recognised categories.
var validCategories = map[Category]bool{
	CategoryGlobal: true,
	CategoryZone:   true,
	CategoryClient: true,
	CategoryMedia:  true,
}

// Kind distinguishes commands from status features.
type Kind string

// Feature kinds.
const (
	KindCommand Kind = "command"
	KindStatus  Kind = "status"
)

// Protocol is a single transport.
type Protocol uint8

// Protocols.
const (
	ProtocolAPI Protocol = 1 << iota
	ProtocolMQTT
	ProtocolKNX
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolAPI:
		return "api"
	case ProtocolMQTT:
		return "mqtt"
	case ProtocolKNX:
		return "knx"
	default:
		return "protocol(" + strconv.Itoa(int(p)) + ")"
	}
}

// Protocols is a bitset of Protocol values.
type Protocols uint8

// AllProtocols has every transport set.
const AllProtocols = Protocols(ProtocolAPI | ProtocolMQTT | ProtocolKNX)

// Has reports whether p is in the set.
func (s Protocols) Has(p Protocol) bool {
	return s&Protocols(p) != 0
}

// Without returns the set with p cleared.
func (s Protocols) Without(p Protocol) Protocols {
	return s &^ Protocols(p)
}

// List returns the protocols in the set in declaration order.
func (s Protocols) List() []Protocol {
	var out []Protocol
	for _, p := range []Protocol{ProtocolAPI, ProtocolMQTT, ProtocolKNX} {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Endpoint is a REST binding.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Feature is one entry of the registry.
type Feature struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Kind        Kind      `json:"kind"`
	Description string    `json:"description"`
	Protocols   Protocols `json:"-"`

	// Exclusions names protocols the feature is deliberately kept off,
	// with a human-readable reason. Documentation metadata only.
	Exclusions map[Protocol]string `json:"-"`

	REST      *Endpoint `json:"rest,omitempty"`
	MQTTTopic string    `json:"mqtt_topic,omitempty"`

	RequiresImplementation bool `json:"requires_implementation"`
	RecentlyAdded          bool `json:"recently_added"`
}

// KNXExclusionReason returns why the feature is kept off KNX, or "".
func (f *Feature) KNXExclusionReason() string {
	return f.Exclusions[ProtocolKNX]
}

// Supports reports whether the feature is exposed on p.
func (f *Feature) Supports(p Protocol) bool {
	if !f.Protocols.Has(p) {
		return false
	}
	_, excluded := f.Exclusions[p]
	return !excluded
}

// Topic substitutes index into the MQTT topic template.
// Returns "" when the feature has no MQTT binding.
func (f *Feature) Topic(index int) string {
	if f.MQTTTopic == "" {
		return ""
	}
	return substitute(f.MQTTTopic, index)
}

// Path substitutes index into the REST path template.
func (f *Feature) Path(index int) string {
	if f.REST == nil {
		return ""
	}
	return substitute(f.REST.Path, index)
}

func substitute(template string, index int) string {
	idx := strconv.Itoa(index)
	r := strings.NewReplacer("{zoneIndex}", idx, "{clientIndex}", idx, "{index}", idx)
	return r.Replace(template)
}

// copyFeature returns a deep copy so callers cannot mutate registry state.
func copyFeature(f *Feature) Feature {
	out := *f
	if f.Exclusions != nil {
		out.Exclusions = make(map[Protocol]string, len(f.Exclusions))
		for p, reason := range f.Exclusions {
			out.Exclusions[p] = reason
		}
	}
	if f.REST != nil {
		ep := *f.REST
		out.REST = &ep
	}
	return out
}
