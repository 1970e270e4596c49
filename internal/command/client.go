package command

import (
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// SetClientVolume sets a client's own volume.
type SetClientVolume struct {
	Meta
	ClientTarget
	Volume int `json:"volume"`
}

func (SetClientVolume) Operation() string              { return "SetClientVolume" }
func (SetClientVolume) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c SetClientVolume) Validate() error {
	var p problems
	p.index("client", c.Client)
	p.add(c.Volume < zone.MinVolume || c.Volume > zone.MaxVolume,
		"volume must be between %d and %d, got %d", zone.MinVolume, zone.MaxVolume, c.Volume)
	return p.err()
}

// SetClientMute mutes or unmutes a client.
type SetClientMute struct {
	Meta
	ClientTarget
	Muted bool `json:"muted"`
}

func (SetClientMute) Operation() string              { return "SetClientMute" }
func (SetClientMute) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// ToggleClientMute flips a client's mute state.
type ToggleClientMute struct {
	Meta
	ClientTarget
}

func (ToggleClientMute) Operation() string              { return "ToggleClientMute" }
func (ToggleClientMute) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

// SetClientLatency sets a client's playback latency.
type SetClientLatency struct {
	Meta
	ClientTarget
	LatencyMs int `json:"latency_ms"`
}

func (SetClientLatency) Operation() string              { return "SetClientLatency" }
func (SetClientLatency) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c SetClientLatency) Validate() error {
	var p problems
	p.index("client", c.Client)
	p.add(c.LatencyMs < 0 || c.LatencyMs > client.MaxLatencyMs,
		"latency must be between 0 and %d ms, got %d", client.MaxLatencyMs, c.LatencyMs)
	return p.err()
}

// AssignClientZone moves a client into a zone.
type AssignClientZone struct {
	Meta
	ClientTarget
	ZoneIndex int `json:"zone_index"`
}

func (AssignClientZone) Operation() string              { return "AssignClientZone" }
func (AssignClientZone) Class() pipeline.OperationClass { return pipeline.ClassUpdate }

func (c AssignClientZone) Validate() error {
	var p problems
	p.index("client", c.Client)
	p.index("zone", c.ZoneIndex)
	return p.err()
}
