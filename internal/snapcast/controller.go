package snapcast

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/metaneutrons/snapdog2-sub010/internal/catalog"
	"github.com/metaneutrons/snapdog2-sub010/internal/client"
	"github.com/metaneutrons/snapdog2-sub010/internal/zone"
)

// Caller performs one JSON-RPC call; *Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// ZoneBinding ties a zone to its Snapcast group and stream.
type ZoneBinding struct {
	Group  string
	Stream string
}

// Loop status values of the stream "loopStatus" property.
const (
	loopNone     = "none"
	loopTrack    = "track"
	loopPlaylist = "playlist"
)

// ============================================================================
// Zones
// ============================================================================

// ZoneController implements zone.Controller on top of Snapcast streams and
// groups.
type ZoneController struct {
	rpc   Caller
	zones map[int]ZoneBinding
}

var _ zone.Controller = (*ZoneController)(nil)

// NewZoneController returns a controller for the bound zones.
func NewZoneController(rpc Caller, zones map[int]ZoneBinding) *ZoneController {
	return &ZoneController{rpc: rpc, zones: zones}
}

func (z *ZoneController) binding(index int) (ZoneBinding, error) {
	b, ok := z.zones[index]
	if !ok || b.Stream == "" {
		return ZoneBinding{}, fmt.Errorf("%w: zone %d", ErrUnboundZone, index)
	}
	return b, nil
}

func (z *ZoneController) control(ctx context.Context, index int, command string, params map[string]any) error {
	b, err := z.binding(index)
	if err != nil {
		return err
	}
	req := map[string]any{"id": b.Stream, "command": command}
	if params != nil {
		req["params"] = params
	}
	return z.rpc.Call(ctx, "Stream.Control", req, nil)
}

func (z *ZoneController) property(ctx context.Context, index int, name string, value any) error {
	b, err := z.binding(index)
	if err != nil {
		return err
	}
	return z.rpc.Call(ctx, "Stream.SetProperty", map[string]any{"id": b.Stream, "property": name, "value": value}, nil)
}

func (z *ZoneController) Play(ctx context.Context, index int) error {
	return z.control(ctx, index, "play", nil)
}

func (z *ZoneController) Pause(ctx context.Context, index int) error {
	return z.control(ctx, index, "pause", nil)
}

func (z *ZoneController) Stop(ctx context.Context, index int) error {
	return z.control(ctx, index, "stop", nil)
}

// SetVolume sets the stream volume, which Snapcast applies to every client
// of the group.
func (z *ZoneController) SetVolume(ctx context.Context, index, volume int) error {
	return z.property(ctx, index, "volume", volume)
}

// SetMute mutes the zone's group. Client volumes are left as they are.
func (z *ZoneController) SetMute(ctx context.Context, index int, muted bool) error {
	b, ok := z.zones[index]
	if !ok || b.Group == "" {
		return fmt.Errorf("%w: zone %d has no group", ErrUnboundZone, index)
	}
	return z.rpc.Call(ctx, "Group.SetMute", map[string]any{"id": b.Group, "mute": muted}, nil)
}

// LoadPlaylist has no server-side effect; the following LoadTrack opens the
// first track.
func (z *ZoneController) LoadPlaylist(_ context.Context, index int, _ catalog.Playlist) error {
	_, err := z.binding(index)
	return err
}

// LoadTrack opens the track's URL on the stream without starting it.
func (z *ZoneController) LoadTrack(ctx context.Context, index int, t catalog.Track) error {
	return z.control(ctx, index, "load", map[string]any{"uri": t.URL})
}

// PlayURL opens url on the stream and starts it.
func (z *ZoneController) PlayURL(ctx context.Context, index int, url string) error {
	return z.control(ctx, index, "play", map[string]any{"uri": url})
}

func (z *ZoneController) SetTrackRepeat(ctx context.Context, index int, enabled bool) error {
	return z.property(ctx, index, "loopStatus", loop(enabled, loopTrack))
}

func (z *ZoneController) SetPlaylistRepeat(ctx context.Context, index int, enabled bool) error {
	return z.property(ctx, index, "loopStatus", loop(enabled, loopPlaylist))
}

func (z *ZoneController) SetShuffle(ctx context.Context, index int, enabled bool) error {
	return z.property(ctx, index, "shuffle", enabled)
}

// Seek moves the stream to positionMs. Snapcast takes seconds.
func (z *ZoneController) Seek(ctx context.Context, index int, positionMs int64) error {
	return z.control(ctx, index, "setPosition", map[string]any{"position": float64(positionMs) / 1000})
}

func loop(enabled bool, mode string) string {
	if enabled {
		return mode
	}
	return loopNone
}

// ============================================================================
// Clients
// ============================================================================

// ClientController implements client.Controller on top of Snapcast clients.
//
// Client.SetVolume carries both percent and mute, so the controller keeps
// the last values it sent per client.
type ClientController struct {
	rpc     Caller
	clients map[int]string // client index -> Snapcast client id
	zones   map[int]ZoneBinding

	mu      sync.Mutex
	volumes map[int]Volume
}

var _ client.Controller = (*ClientController)(nil)

// NewClientController returns a controller for the bound clients.
func NewClientController(rpc Caller, clients map[int]string, zones map[int]ZoneBinding) *ClientController {
	return &ClientController{rpc: rpc, clients: clients, zones: zones, volumes: make(map[int]Volume)}
}

// Seed records the volumes reported by the server.
func (c *ClientController) Seed(st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, id := range c.clients {
		if cs, _, ok := st.Client(id); ok {
			c.volumes[idx] = cs.Config.Volume
		}
	}
}

func (c *ClientController) id(index int) (string, error) {
	id, ok := c.clients[index]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: client %d", ErrUnboundClient, index)
	}
	return id, nil
}

func (c *ClientController) setVolume(ctx context.Context, index int, fn func(*Volume)) error {
	id, err := c.id(index)
	if err != nil {
		return err
	}
	c.mu.Lock()
	v, ok := c.volumes[index]
	if !ok {
		v = Volume{Percent: 100}
	}
	fn(&v)
	c.mu.Unlock()

	if err := c.rpc.Call(ctx, "Client.SetVolume", map[string]any{"id": id, "volume": v}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.volumes[index] = v
	c.mu.Unlock()
	return nil
}

func (c *ClientController) SetClientVolume(ctx context.Context, index, volume int) error {
	return c.setVolume(ctx, index, func(v *Volume) { v.Percent = volume })
}

func (c *ClientController) SetClientMute(ctx context.Context, index int, muted bool) error {
	return c.setVolume(ctx, index, func(v *Volume) { v.Muted = muted })
}

func (c *ClientController) SetClientLatency(ctx context.Context, index, latencyMs int) error {
	id, err := c.id(index)
	if err != nil {
		return err
	}
	return c.rpc.Call(ctx, "Client.SetLatency", map[string]any{"id": id, "latency": latencyMs}, nil)
}

// AssignClientZone moves the client into the zone's group. Snapcast
// removes it from its previous group.
func (c *ClientController) AssignClientZone(ctx context.Context, index, zoneIndex int) error {
	id, err := c.id(index)
	if err != nil {
		return err
	}
	b, ok := c.zones[zoneIndex]
	if !ok || b.Group == "" {
		return fmt.Errorf("%w: zone %d has no group", ErrUnboundZone, zoneIndex)
	}

	var st Status
	if err := c.rpc.Call(ctx, "Server.GetStatus", nil, &st); err != nil {
		return err
	}
	g, ok := st.Group(b.Group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, b.Group)
	}
	members := make([]string, 0, len(g.Clients)+1)
	for _, m := range g.Clients {
		members = append(members, m.ID)
	}
	if slices.Contains(members, id) {
		return nil
	}
	members = append(members, id)
	return c.rpc.Call(ctx, "Group.SetClients", map[string]any{"id": b.Group, "clients": members}, nil)
}
