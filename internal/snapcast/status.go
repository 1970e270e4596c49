package snapcast

import (
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// Volume is a Snapcast client volume.
type Volume struct {
	Muted   bool `json:"muted"`
	Percent int  `json:"percent"`
}

// Host describes the machine a client runs on.
type Host struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	MAC  string `json:"mac"`
}

// ClientConfig is the server-side configuration of a client.
type ClientConfig struct {
	Name     string `json:"name"`
	Volume   Volume `json:"volume"`
	Latency  int    `json:"latency"`
	Instance int    `json:"instance"`
}

// ClientStatus is one client entry of Server.GetStatus.
type ClientStatus struct {
	ID        string       `json:"id"`
	Host      Host         `json:"host"`
	Config    ClientConfig `json:"config"`
	Connected bool         `json:"connected"`
}

// Group is one group entry of Server.GetStatus.
type Group struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	StreamID string         `json:"stream_id"`
	Muted    bool           `json:"muted"`
	Clients  []ClientStatus `json:"clients"`
}

// Stream is one stream entry of Server.GetStatus.
type Stream struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"` // idle, playing, disabled
	Properties map[string]any `json:"properties,omitempty"`
}

// Server is the server part of Server.GetStatus.
type Server struct {
	Groups  []Group  `json:"groups"`
	Streams []Stream `json:"streams"`
}

// Status is the result of Server.GetStatus.
type Status struct {
	Server Server `json:"server"`
}

// Group returns the group with id.
func (s Status) Group(id string) (Group, bool) {
	for _, g := range s.Server.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// Stream returns the stream with id.
func (s Status) Stream(id string) (Stream, bool) {
	for _, st := range s.Server.Streams {
		if st.ID == id {
			return st, true
		}
	}
	return Stream{}, false
}

// Client returns the client with id and the id of the group holding it.
func (s Status) Client(id string) (ClientStatus, string, bool) {
	for _, g := range s.Server.Groups {
		for _, c := range g.Clients {
			if c.ID == id {
				return c, g.ID, true
			}
		}
	}
	return ClientStatus{}, "", false
}

// ZoneSeed returns a zone.WithInitialState adjuster that copies mute and
// transport state from the zone's bound group and stream.
func ZoneSeed(st Status, b ZoneBinding) func(*zone.State) {
	return func(s *zone.State) {
		if g, ok := st.Group(b.Group); ok {
			s.Muted = g.Muted
		}
		if stream, ok := st.Stream(b.Stream); ok {
			if stream.Status == "playing" {
				s.Playback = zone.Playing
			}
			if v, ok := stream.Properties["shuffle"].(bool); ok {
				s.Shuffle = v
			}
			switch stream.Properties["loopStatus"] {
			case "track":
				s.TrackRepeat = true
			case "playlist":
				s.PlaylistRepeat = true
			}
		}
	}
}

// ClientSeed builds the initial client.State for a Snapcast client id.
// The zone is resolved from the group the client sits in. It returns nil
// when the server does not know the client.
func ClientSeed(st Status, snapcastID string, zones map[int]ZoneBinding) *client.State {
	c, groupID, ok := st.Client(snapcastID)
	if !ok {
		return nil
	}
	s := &client.State{
		Volume:    c.Config.Volume.Percent,
		Muted:     c.Config.Volume.Muted,
		LatencyMs: c.Config.Latency,
		Connected: c.Connected,
	}
	for idx, b := range zones {
		if b.Group == groupID {
			s.ZoneIndex = idx
			break
		}
	}
	return s
}
