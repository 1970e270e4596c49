package command

import (
	"strconv"
	"strings"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
)

// ArgKind is the payload type a command feature expects.
type ArgKind int

// Argument kinds.
const (
	ArgNone ArgKind = iota
	ArgInt
	ArgBool
	ArgFloat
	ArgText
)

func (k ArgKind) String() string {
	switch k {
	case ArgInt:
		return "int"
	case ArgBool:
		return "bool"
	case ArgFloat:
		return "float"
	case ArgText:
		return "text"
	default:
		return "none"
	}
}

// Arg is a decoded command payload. Only the field matching the feature's
// ArgKind is read.
type Arg struct {
	Int   int64
	Bool  bool
	Float float64
	Text  string
}

type binding struct {
	arg   ArgKind
	build func(m Meta, index int, a Arg) pipeline.Command
}

func zt(i int) ZoneTarget   { return ZoneTarget{Zone: i} }
func ct(i int) ClientTarget { return ClientTarget{Client: i} }

// defaultStep is the volume step for VOLUME_UP/VOLUME_DOWN without a payload.
const defaultStep = 5

var bindings = map[string]binding{
	feature.Play:  {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return Play{m, zt(i)} }},
	feature.Pause: {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return Pause{m, zt(i)} }},
	feature.Stop:  {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return Stop{m, zt(i)} }},

	feature.Volume:     {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return SetVolume{m, zt(i), int(a.Int)} }},
	feature.VolumeUp:   {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return VolumeUp{m, zt(i), step(a)} }},
	feature.VolumeDown: {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return VolumeDown{m, zt(i), step(a)} }},
	feature.Mute:       {ArgBool, func(m Meta, i int, a Arg) pipeline.Command { return SetMute{m, zt(i), a.Bool} }},
	feature.MuteToggle: {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return ToggleMute{m, zt(i)} }},

	feature.Track:          {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return SetTrack{m, zt(i), int(a.Int)} }},
	feature.TrackNext:      {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return NextTrack{m, zt(i)} }},
	feature.TrackPrevious:  {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return PreviousTrack{m, zt(i)} }},
	feature.TrackPlayIndex: {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return PlayTrack{m, zt(i), int(a.Int)} }},
	feature.TrackPlayURL:   {ArgText, func(m Meta, i int, a Arg) pipeline.Command { return PlayURL{m, zt(i), a.Text} }},

	feature.Playlist:         {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return SetPlaylist{m, zt(i), int(a.Int)} }},
	feature.PlaylistNext:     {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return NextPlaylist{m, zt(i)} }},
	feature.PlaylistPrevious: {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return PreviousPlaylist{m, zt(i)} }},

	feature.TrackRepeat:          {ArgBool, func(m Meta, i int, a Arg) pipeline.Command { return SetTrackRepeat{m, zt(i), a.Bool} }},
	feature.TrackRepeatToggle:    {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return ToggleTrackRepeat{m, zt(i)} }},
	feature.PlaylistRepeat:       {ArgBool, func(m Meta, i int, a Arg) pipeline.Command { return SetPlaylistRepeat{m, zt(i), a.Bool} }},
	feature.PlaylistRepeatToggle: {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return TogglePlaylistRepeat{m, zt(i)} }},
	feature.Shuffle:              {ArgBool, func(m Meta, i int, a Arg) pipeline.Command { return SetShuffle{m, zt(i), a.Bool} }},
	feature.ShuffleToggle:        {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return ToggleShuffle{m, zt(i)} }},

	feature.TrackPosition: {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return SeekPosition{m, zt(i), a.Int} }},
	feature.TrackProgress: {ArgFloat, func(m Meta, i int, a Arg) pipeline.Command { return SeekProgress{m, zt(i), a.Float} }},

	feature.ClientVolume:     {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return SetClientVolume{m, ct(i), int(a.Int)} }},
	feature.ClientMute:       {ArgBool, func(m Meta, i int, a Arg) pipeline.Command { return SetClientMute{m, ct(i), a.Bool} }},
	feature.ClientMuteToggle: {ArgNone, func(m Meta, i int, _ Arg) pipeline.Command { return ToggleClientMute{m, ct(i)} }},
	feature.ClientLatency:    {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return SetClientLatency{m, ct(i), int(a.Int)} }},
	feature.ClientZone:       {ArgInt, func(m Meta, i int, a Arg) pipeline.Command { return AssignClientZone{m, ct(i), int(a.Int)} }},
}

// optionalArgs are the features whose payload may be left empty.
var optionalArgs = map[string]bool{
	feature.VolumeUp:   true,
	feature.VolumeDown: true,
}

func step(a Arg) int {
	if a.Int == 0 {
		return defaultStep
	}
	return int(a.Int)
}

// ArgOf returns the payload kind of a command feature.
func ArgOf(featureID string) (ArgKind, bool) {
	b, ok := bindings[featureID]
	return b.arg, ok
}

// OptionalArg reports whether featureID accepts an empty payload.
func OptionalArg(featureID string) bool { return optionalArgs[featureID] }

// FromFeature builds the command for a command feature addressed at a zone
// or client index. Unknown ids fail with Unsupported.
func FromFeature(featureID string, index int, src pipeline.Source, a Arg) (pipeline.Command, error) {
	b, ok := bindings[featureID]
	if !ok {
		return nil, apperr.New(apperr.Unsupported, "feature %s is not a command", featureID)
	}
	return b.build(NewMeta(src), index, a), nil
}

// ParseFeatureArg decodes the textual payload of a command feature. An
// empty payload is only accepted where OptionalArg allows it.
func ParseFeatureArg(featureID, raw string) (Arg, error) {
	b, ok := bindings[featureID]
	if !ok {
		return Arg{}, apperr.New(apperr.Unsupported, "feature %s is not a command", featureID)
	}
	if optionalArgs[featureID] && strings.TrimSpace(raw) == "" {
		return Arg{}, nil
	}
	return ParseArg(b.arg, raw)
}

// ParseArg decodes a textual payload, as carried by MQTT messages.
func ParseArg(kind ArgKind, raw string) (Arg, error) {
	s := strings.TrimSpace(raw)
	switch kind {
	case ArgNone:
		return Arg{}, nil
	case ArgInt:
		if s == "" {
			return Arg{}, apperr.Invalid("expected an integer, got an empty payload")
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Arg{}, apperr.Invalid("expected an integer, got %q", raw)
		}
		return Arg{Int: v}, nil
	case ArgBool:
		switch strings.ToLower(s) {
		case "true", "1", "on", "yes":
			return Arg{Bool: true}, nil
		case "false", "0", "off", "no":
			return Arg{Bool: false}, nil
		}
		return Arg{}, apperr.Invalid("expected a boolean, got %q", raw)
	case ArgFloat:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Arg{}, apperr.Invalid("expected a number, got %q", raw)
		}
		return Arg{Float: v}, nil
	default:
		return Arg{Text: s}, nil
	}
}
