package mqtt

import (
	"strconv"
	"strings"
)

// DefaultBaseTopic is the root of every SnapDog topic.
const DefaultBaseTopic = "snapdog"

// Topic scopes.
const (
	ScopeZone   = "zone"
	ScopeClient = "client"
	ScopeSystem = "system"
)

// Topic directions below a zone or client.
const (
	DirCommand = "command"
	DirStatus  = "status"
)

// Topics provides builders for SnapDog MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Zone and client topics follow {base}/{scope}/{index}/{command|status}/{name}:
//
//	topics := mqtt.NewTopics("snapdog")
//	topics.ZoneCommand(1, "volume")
//	// Returns: "snapdog/zone/1/command/volume"
type Topics struct {
	Base string
}

// NewTopics returns topic builders rooted at base, or DefaultBaseTopic when
// base is empty.
func NewTopics(base string) Topics {
	base = strings.Trim(base, "/")
	if base == "" {
		base = DefaultBaseTopic
	}
	return Topics{Base: base}
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultBaseTopic
	}
	return t.Base
}

func (t Topics) join(parts ...string) string {
	return t.base() + "/" + strings.Join(parts, "/")
}

// =============================================================================
// Zone and Client Topics
// =============================================================================

// ZoneCommand returns the command topic of a zone feature.
//
// Example: snapdog/zone/1/command/volume
func (t Topics) ZoneCommand(index int, name string) string {
	return t.join(ScopeZone, strconv.Itoa(index), DirCommand, name)
}

// ZoneStatus returns the retained status topic of a zone feature.
//
// Example: snapdog/zone/1/status/volume
func (t Topics) ZoneStatus(index int, name string) string {
	return t.join(ScopeZone, strconv.Itoa(index), DirStatus, name)
}

// ClientCommand returns the command topic of a client feature.
//
// Example: snapdog/client/2/command/mute
func (t Topics) ClientCommand(index int, name string) string {
	return t.join(ScopeClient, strconv.Itoa(index), DirCommand, name)
}

// ClientStatus returns the retained status topic of a client feature.
//
// Example: snapdog/client/2/status/mute
func (t Topics) ClientStatus(index int, name string) string {
	return t.join(ScopeClient, strconv.Itoa(index), DirStatus, name)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic carrying the online/offline
// payloads and the Last Will.
//
// Example: snapdog/system/status
func (t Topics) SystemStatus() string {
	return t.join(ScopeSystem, "status")
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllZoneCommands returns a pattern matching every zone command.
//
// Pattern: snapdog/zone/+/command/+
func (t Topics) AllZoneCommands() string {
	return t.join(ScopeZone, "+", DirCommand, "+")
}

// AllClientCommands returns a pattern matching every client command.
//
// Pattern: snapdog/client/+/command/+
func (t Topics) AllClientCommands() string {
	return t.join(ScopeClient, "+", DirCommand, "+")
}

// AllTopics returns a pattern matching all SnapDog topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: snapdog/#
func (t Topics) AllTopics() string {
	return t.join("#")
}

// =============================================================================
// Parsing
// =============================================================================

// Route is a parsed zone or client topic.
type Route struct {
	Scope     string // ScopeZone or ScopeClient
	Index     int
	Direction string // DirCommand or DirStatus
	Name      string
}

// Parse splits a zone or client topic below the base. It reports false for
// topics outside the base, other scopes, and non-positive indices.
func (t Topics) Parse(topic string) (Route, bool) {
	rest, ok := strings.CutPrefix(topic, t.base()+"/")
	if !ok {
		return Route{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] == "" {
		return Route{}, false
	}
	if parts[0] != ScopeZone && parts[0] != ScopeClient {
		return Route{}, false
	}
	if parts[2] != DirCommand && parts[2] != DirStatus {
		return Route{}, false
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil || index < 1 {
		return Route{}, false
	}
	return Route{Scope: parts[0], Index: index, Direction: parts[2], Name: parts[3]}, true
}

// Rebase moves a topic rooted at from under this base. Topics outside from
// are returned unchanged.
func (t Topics) Rebase(topic, from string) string {
	if rest, ok := strings.CutPrefix(topic, from+"/"); ok {
		return t.base() + "/" + rest
	}
	return topic
}
