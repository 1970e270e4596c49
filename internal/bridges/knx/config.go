package knx

import (
	"errors"
	"fmt"
	"sort"

	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/notify"
)

// datapoints is the DPT of every feature that can be bound to a group
// address. A feature listed here may still be excluded from KNX by the
// registry; writes for it are then suppressed.
var datapoints = map[string]DPT{
	// Zone commands
	feature.Play:                 DPTTrigger,
	feature.Pause:                DPTTrigger,
	feature.Stop:                 DPTTrigger,
	feature.Volume:               DPTScaling,
	feature.VolumeUp:             DPTCount,
	feature.VolumeDown:           DPTCount,
	feature.Mute:                 DPTSwitch,
	feature.MuteToggle:           DPTTrigger,
	feature.Track:                DPTCount,
	feature.TrackNext:            DPTTrigger,
	feature.TrackPrevious:        DPTTrigger,
	feature.TrackPlayIndex:       DPTCount,
	feature.Playlist:             DPTCount,
	feature.PlaylistNext:         DPTTrigger,
	feature.PlaylistPrevious:     DPTTrigger,
	feature.TrackRepeat:          DPTSwitch,
	feature.TrackRepeatToggle:    DPTTrigger,
	feature.PlaylistRepeat:       DPTSwitch,
	feature.PlaylistRepeatToggle: DPTTrigger,
	feature.Shuffle:              DPTSwitch,
	feature.ShuffleToggle:        DPTTrigger,
	feature.TrackProgress:        DPTScaling,

	// Zone status
	feature.PlaybackState:        DPTCount,
	feature.VolumeStatus:         DPTScaling,
	feature.MuteStatus:           DPTSwitch,
	feature.TrackIndex:           DPTCount,
	feature.PlaylistIndex:        DPTCount,
	feature.TrackRepeatStatus:    DPTSwitch,
	feature.PlaylistRepeatStatus: DPTSwitch,
	feature.ShuffleStatus:        DPTSwitch,

	// Client commands and status
	feature.ClientVolume:       DPTScaling,
	feature.ClientMute:         DPTSwitch,
	feature.ClientMuteToggle:   DPTTrigger,
	feature.ClientZone:         DPTCount,
	feature.ClientVolumeStatus: DPTScaling,
	feature.ClientMuteStatus:   DPTSwitch,
	feature.ClientZoneStatus:   DPTCount,
}

// DatapointOf returns the DPT bound to a feature id.
func DatapointOf(featureID string) (DPT, bool) {
	d, ok := datapoints[featureID]
	return d, ok
}

// Addresses are the group addresses of one zone or client, keyed by
// feature id.
type Addresses struct {
	Scope    notify.Scope
	Index    int
	Commands map[string]string
	Status   map[string]string
}

// AddressesFromConfig collects the group addresses of every zone and client.
func AddressesFromConfig(zones []config.ZoneConfig, clients []config.ClientConfig) []Addresses {
	var out []Addresses
	for _, z := range zones {
		out = append(out, Addresses{Scope: notify.ScopeZone, Index: z.Index, Commands: z.KNX.Commands, Status: z.KNX.Status})
	}
	for _, c := range clients {
		out = append(out, Addresses{Scope: notify.ScopeClient, Index: c.Index, Commands: c.KNX.Commands, Status: c.KNX.Status})
	}
	return out
}

// ConnConfigFrom converts the application KNX section.
func ConnConfigFrom(cfg config.KNXConfig) ConnConfig {
	return ConnConfig{
		Connection:        ConnectionURL(cfg.KNXDHost, cfg.KNXDPort),
		ConnectTimeout:    config.Seconds(cfg.ConnectTimeout),
		ReconnectInterval: config.Seconds(cfg.ReconnectInterval),
	}
}

// ============================================================================
// Index
// ============================================================================

// commandBinding is what a command group address triggers.
type commandBinding struct {
	FeatureID string
	Scope     notify.Scope
	Index     int
	DPT       DPT
}

type statusKey struct {
	Scope notify.Scope
	Index int
	ID    string
}

type statusBinding struct {
	GA  GroupAddress
	DPT DPT
}

// Index is the lookup table built from configured addresses.
type Index struct {
	commands map[uint16]commandBinding
	status   map[statusKey]statusBinding
	reads    map[uint16]statusKey

	// Suppressed lists status bindings for features the registry keeps off
	// KNX. They are kept so the write gate is observable.
	Suppressed []string
}

// BuildIndex validates addresses against the registry and builds the
// lookup tables. Every problem is reported, joined.
func BuildIndex(reg *feature.Registry, addrs []Addresses) (*Index, error) {
	idx := &Index{
		commands: make(map[uint16]commandBinding),
		status:   make(map[statusKey]statusBinding),
		reads:    make(map[uint16]statusKey),
	}
	var errs []error

	for _, a := range addrs {
		want := feature.CategoryZone
		if a.Scope == notify.ScopeClient {
			want = feature.CategoryClient
		}
		owner := fmt.Sprintf("%s %d", a.Scope, a.Index)

		for _, id := range sortedKeys(a.Commands) {
			ga, dpt, err := resolve(reg, id, a.Commands[id], want, feature.KindCommand)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s command %s: %w", owner, id, err))
				continue
			}
			if !reg.IsProtocolSupported(id, feature.ProtocolKNX) {
				errs = append(errs, fmt.Errorf("%s command %s: %w", owner, id, ErrUnmappedFeature))
				continue
			}
			key := ga.ToUint16()
			if prev, dup := idx.commands[key]; dup {
				errs = append(errs, fmt.Errorf("%s command %s: %w: %s already triggers %s %d %s",
					owner, id, ErrDuplicateAddress, ga, prev.Scope, prev.Index, prev.FeatureID))
				continue
			}
			idx.commands[key] = commandBinding{FeatureID: id, Scope: a.Scope, Index: a.Index, DPT: dpt}
		}

		for _, id := range sortedKeys(a.Status) {
			ga, dpt, err := resolve(reg, id, a.Status[id], want, feature.KindStatus)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s status %s: %w", owner, id, err))
				continue
			}
			key := statusKey{Scope: a.Scope, Index: a.Index, ID: id}
			idx.status[key] = statusBinding{GA: ga, DPT: dpt}
			if !reg.IsProtocolSupported(id, feature.ProtocolKNX) {
				idx.Suppressed = append(idx.Suppressed, fmt.Sprintf("%s %s", owner, id))
				continue
			}
			idx.reads[ga.ToUint16()] = key
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return idx, nil
}

func resolve(reg *feature.Registry, id, addr string, cat feature.Category, kind feature.Kind) (GroupAddress, DPT, error) {
	f, err := reg.Lookup(id)
	if err != nil {
		return GroupAddress{}, "", err
	}
	if f.Category != cat || f.Kind != kind {
		return GroupAddress{}, "", fmt.Errorf("feature is a %s %s, not a %s %s", f.Category, f.Kind, cat, kind)
	}
	dpt, ok := datapoints[id]
	if !ok {
		return GroupAddress{}, "", ErrUnmappedFeature
	}
	ga, err := ParseGroupAddress(addr)
	if err != nil {
		return GroupAddress{}, "", err
	}
	return ga, dpt, nil
}

// Len returns the number of command and status bindings.
func (x *Index) Len() int { return len(x.commands) + len(x.status) }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
