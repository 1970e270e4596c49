package feature

import (
	"errors"
	"strings"
	"testing"
)

func validFeature(id string) Feature {
	return Feature{
		ID:          id,
		Category:    CategoryZone,
		Kind:        KindCommand,
		Description: "test feature",
		Protocols:   AllProtocols,
	}
}

func TestBuilder_Register(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Feature)
		wantErr error
	}{
		{"valid", func(*Feature) {}, nil},
		{"missing id", func(f *Feature) { f.ID = "" }, ErrInvalidFeature},
		{"missing category", func(f *Feature) { f.Category = "" }, ErrInvalidFeature},
		{"unknown category", func(f *Feature) { f.Category = "room" }, ErrInvalidFeature},
		{"missing description", func(f *Feature) { f.Description = " " }, ErrInvalidFeature},
		{"no protocols", func(f *Feature) { f.Protocols = 0 }, ErrInvalidFeature},
		{"all excluded", func(f *Feature) {
			f.Protocols = Protocols(ProtocolKNX)
			f.Exclusions = map[Protocol]string{ProtocolKNX: "not wired"}
		}, ErrInvalidFeature},
		{"empty exclusion reason", func(f *Feature) {
			f.Exclusions = map[Protocol]string{ProtocolKNX: ""}
		}, ErrInvalidFeature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFeature("X")
			tt.mutate(&f)
			err := NewBuilder().Register(f)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuilder_RegisterDuplicate(t *testing.T) {
	b := NewBuilder()
	if err := b.Register(validFeature("PLAY")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := b.Register(validFeature("PLAY")); !errors.Is(err, ErrDuplicateFeature) {
		t.Errorf("Register() duplicate error = %v, want %v", err, ErrDuplicateFeature)
	}
}

func TestBuilder_RegisterAfterBuild(t *testing.T) {
	b := NewBuilder()
	b.Build()
	if err := b.Register(validFeature("PLAY")); !errors.Is(err, ErrRegistryBuilt) {
		t.Errorf("Register() after Build error = %v, want %v", err, ErrRegistryBuilt)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r, err := NewRegistry(validFeature("PLAY"))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	f, err := r.Lookup("PLAY")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if f.ID != "PLAY" {
		t.Errorf("Lookup().ID = %q, want PLAY", f.ID)
	}

	if _, err := r.Lookup("NOPE"); !errors.Is(err, ErrFeatureNotFound) {
		t.Errorf("Lookup(NOPE) error = %v, want %v", err, ErrFeatureNotFound)
	}
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	f := validFeature("SHUFFLE")
	f.Protocols = AllProtocols.Without(ProtocolKNX)
	f.Exclusions = map[Protocol]string{ProtocolKNX: "toggle"}
	r, err := NewRegistry(f)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	got, _ := r.Lookup("SHUFFLE")
	delete(got.Exclusions, ProtocolKNX)
	got.Protocols = AllProtocols

	if r.IsProtocolSupported("SHUFFLE", ProtocolKNX) {
		t.Error("registry mutated through Lookup() result")
	}
}

func TestRegistry_IsProtocolSupported(t *testing.T) {
	excluded := validFeature("EXCLUDED")
	excluded.Exclusions = map[Protocol]string{ProtocolKNX: "documented reason"}

	apiOnly := validFeature("API_ONLY")
	apiOnly.Protocols = Protocols(ProtocolAPI)

	r, err := NewRegistry(validFeature("ALL"), excluded, apiOnly)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		id   string
		p    Protocol
		want bool
	}{
		{"ALL", ProtocolAPI, true},
		{"ALL", ProtocolMQTT, true},
		{"ALL", ProtocolKNX, true},
		{"EXCLUDED", ProtocolMQTT, true},
		{"EXCLUDED", ProtocolKNX, false},
		{"API_ONLY", ProtocolAPI, true},
		{"API_ONLY", ProtocolMQTT, false},
		{"UNKNOWN", ProtocolAPI, false},
	}

	for _, tt := range tests {
		if got := r.IsProtocolSupported(tt.id, tt.p); got != tt.want {
			t.Errorf("IsProtocolSupported(%s, %s) = %v, want %v", tt.id, tt.p, got, tt.want)
		}
	}
}

// ============================================================================
// Default table
// ============================================================================

func TestDefault_Builds(t *testing.T) {
	r := Default()
	if r.Len() != len(DefaultFeatures()) {
		t.Errorf("Len() = %d, want %d", r.Len(), len(DefaultFeatures()))
	}
}

func TestDefault_ShuffleStatusNotOnKNX(t *testing.T) {
	r := Default()
	if r.IsProtocolSupported(ShuffleStatus, ProtocolKNX) {
		t.Error("IsProtocolSupported(PLAYLIST_SHUFFLE_STATUS, knx) = true, want false")
	}
	if !r.IsProtocolSupported(ShuffleStatus, ProtocolMQTT) {
		t.Error("IsProtocolSupported(PLAYLIST_SHUFFLE_STATUS, mqtt) = false, want true")
	}
	f, _ := r.Lookup(ShuffleStatus)
	if f.KNXExclusionReason() == "" {
		t.Error("KNXExclusionReason() is empty for an excluded feature")
	}
}

func TestDefault_Bindings(t *testing.T) {
	for _, f := range Default().All() {
		if f.Supports(ProtocolMQTT) {
			if !strings.HasPrefix(f.MQTTTopic, TopicPrefix+"/") {
				t.Errorf("%s: MQTT topic %q lacks prefix", f.ID, f.MQTTTopic)
			}
			segment := "/status/"
			if f.Kind == KindCommand {
				segment = "/command/"
			}
			if !strings.Contains(f.MQTTTopic, segment) {
				t.Errorf("%s: MQTT topic %q lacks %q", f.ID, f.MQTTTopic, segment)
			}
		}
		if f.Supports(ProtocolAPI) && f.REST == nil {
			t.Errorf("%s: API feature without REST endpoint", f.ID)
		}
	}
}

func TestDefault_UniqueTopics(t *testing.T) {
	seen := make(map[string]string)
	for _, f := range Default().All() {
		if f.MQTTTopic == "" {
			continue
		}
		if other, dup := seen[f.MQTTTopic]; dup {
			t.Errorf("topic %q used by %s and %s", f.MQTTTopic, other, f.ID)
		}
		seen[f.MQTTTopic] = f.ID
	}
}

func TestFeature_Topic(t *testing.T) {
	f, err := Default().Lookup(VolumeStatus)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got, want := f.Topic(3), "snapdog/zone/3/status/volume"; got != want {
		t.Errorf("Topic(3) = %q, want %q", got, want)
	}
	if got, want := f.Path(3), "/api/v1/zones/3/volume"; got != want {
		t.Errorf("Path(3) = %q, want %q", got, want)
	}
}

func TestRegistry_ByCategorySorted(t *testing.T) {
	media := Default().ByCategory(CategoryMedia)
	if len(media) != 4 {
		t.Fatalf("ByCategory(media) len = %d, want 4", len(media))
	}
	for i := 1; i < len(media); i++ {
		if media[i-1].ID >= media[i].ID {
			t.Errorf("ByCategory() not sorted: %s before %s", media[i-1].ID, media[i].ID)
		}
	}
}
